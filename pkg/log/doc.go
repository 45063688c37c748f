/*
Package log provides structured logging for kiln using zerolog.

The global Logger is initialized once via Init and then accessed either
directly or through a context helper (WithComponent, WithRunID, WithMnemonic)
that returns a child logger carrying the given field on every entry.

	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true, Output: os.Stdout})

	runLog := log.WithRunID(runID).With().Str("mnemonic", spawn.Mnemonic()).Logger()
	runLog.Info().Msg("borrowed worker")
*/
package log
