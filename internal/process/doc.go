// Package process runs the ffmpeg children behind encoders, device sources
// and probes.
//
// Child wraps os/exec for one subprocess with piped stdin and stdout:
//   - Graceful shutdown with SIGINT and a configurable timeout
//   - Force kill with SIGKILL if graceful shutdown times out
//   - stderr streamed line by line to a logger through a pluggable LogParser
//   - Context cancellation stops the child
//
// Example:
//
//	c := process.New("video-encoder", []string{"ffmpeg", "-i", "pipe:0", "-f", "h264", "pipe:1"}, logger)
//	c.SetLogParser(logging.GetLogger("ffmpeg"), ffmpeg.ParseLogLevel)
//	if err := c.Start(ctx); err != nil {
//	    return err
//	}
//	defer c.Stop()
package process
