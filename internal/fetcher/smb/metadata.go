package smbfetcher

import (
	"os"
	"time"

	"github.com/hirochachacha/go-smb2"
)

// creationTimer is implemented by file infos that know their creation time.
type creationTimer interface {
	CreationTime() time.Time
}

func creationTime(info os.FileInfo) (time.Time, bool) {
	if ct, ok := info.(creationTimer); ok {
		return ct.CreationTime(), true
	}
	if stat, ok := info.Sys().(*smb2.FileStat); ok {
		return stat.CreationTime, true
	}
	if stat, ok := info.(*smb2.FileStat); ok {
		return stat.CreationTime, true
	}
	return time.Time{}, false
}
