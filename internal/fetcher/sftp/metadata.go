package sftpfetcher

import (
	"os"

	"github.com/pkg/sftp"

	"github.com/JakeFAU/remote-fetch/internal/crawler"
)

func addFileMetadata(res *crawler.Result, info os.FileInfo) {
	if stat, ok := info.Sys().(*sftp.FileStat); ok {
		res.AddMetadata(MetaOwner, stat.UID)
		res.AddMetadata(MetaGroup, stat.GID)
	}
	res.AddMetadata(MetaPermissions, info.Mode().Perm().String())
}
