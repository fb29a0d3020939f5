//go:build !unix

package file

import "os"

// Appends on non-unix platforms rely on O_APPEND alone.
func lockFile(*os.File) error { return nil }

func unlockFile(*os.File) error { return nil }
