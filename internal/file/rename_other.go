//go:build !linux

package file

func renameNoReplace(src, dst string) error {
	return linkRename(src, dst)
}
