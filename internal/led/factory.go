package led

import (
	"log/slog"
	"os"
	"strings"

	"github.com/smazurov/avrec/internal/logging"
)

const deviceTreeModelPath = "/proc/device-tree/model"

type board struct {
	model     string
	leds      map[string]string
	indicator string
}

var boards = []board{
	{model: "NanoPC-T6", leds: map[string]string{"user": "usr_led", "system": "sys_led"}, indicator: "user"},
	{model: "Orange Pi", leds: map[string]string{"blue": "blue_led", "green": "green_led"}, indicator: "green"},
	{model: "Raspberry Pi", leds: map[string]string{"act": "ACT"}, indicator: "act"},
}

// New returns the Controller of the running board, or a no-op controller
// when the board is not known.
func New(logger *slog.Logger) Controller {
	if logger == nil {
		logger = logging.GetLogger("led")
	}
	return forModel(detectBoard(deviceTreeModelPath), sysfsLEDPath, logger)
}

func forModel(model, root string, logger *slog.Logger) Controller {
	for _, b := range boards {
		if strings.Contains(model, b.model) {
			logger.Info("Using sysfs LED controller", "board_model", model, "indicator", b.indicator)
			return newSysfs(root, b.leds, b.indicator)
		}
	}
	logger.Info("No LED support detected, using no-op controller", "board_model", model)
	return newNoop(logger)
}

// detectBoard reads the device tree model, "unknown" when absent.
func detectBoard(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return "unknown"
	}
	return strings.TrimRight(string(data), "\x00")
}
