package fs

import "corefs/biscuit/src/device"

// Stat_t mirrors the subset of stat(2) that a filesystem backed by
// this package can actually populate: sector-addressed inodes have
// no uid/rdev/timestamps of their own. Adapted from Biscuit's
// stat.Stat_t (biscuit/src/stat/stat.go), trimmed to the fields this
// filesystem tracks.
type Stat_t struct {
	ino  device.Sector
	mode Type
	size int64
}

func (st *Stat_t) Ino() device.Sector { return st.ino }
func (st *Stat_t) Mode() Type         { return st.mode }
func (st *Stat_t) Size() int64        { return st.size }

// Stat populates a Stat_t describing ip.
func Stat(ip *Inode) Stat_t {
	return Stat_t{ino: ip.Sector(), mode: ip.Type(), size: ip.Len()}
}
