//go:build linux

package config

import "golang.org/x/sys/unix"

// Filesystem magic numbers from statfs(2).
const (
	magicNFS   = 0x6969
	magicSMB   = 0x517B
	magicCIFS  = 0xFF534D42
	magicSMB2  = 0xFE534D42
	magicFUSE  = 0x65735546
	magic9P    = 0x01021997
	magicCEPH  = 0x00C36400
	magicAFS   = 0x5346414F
	magicCODA  = 0x73757245
	magicNCP   = 0x564C
	magicGFS2  = 0x01161970
	magicOCFS2 = 0x7461636F
)

var networkFilesystems = map[uint32]string{
	magicNFS:   "nfs",
	magicSMB:   "smb",
	magicCIFS:  "cifs",
	magicSMB2:  "smb2",
	magicFUSE:  "fuse",
	magic9P:    "9p",
	magicCEPH:  "ceph",
	magicAFS:   "afs",
	magicCODA:  "coda",
	magicNCP:   "ncp",
	magicGFS2:  "gfs2",
	magicOCFS2: "ocfs2",
}

// IsNetworkFilesystem reports whether path lives on a filesystem that does
// not reliably deliver inotify events for changes made by other hosts.
func IsNetworkFilesystem(path string) (bool, string) {
	if path == "" {
		return false, ""
	}
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return false, ""
	}
	name, ok := networkFilesystems[uint32(st.Type)]
	return ok, name
}
