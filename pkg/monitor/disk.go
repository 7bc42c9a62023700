package monitor

import (
	"golang.org/x/sys/unix"

	"github.com/metabrainz/caa-backup/pkg/errors"
)

// DiskUsage describes the filesystem holding the cache root.
type DiskUsage struct {
	Total       uint64
	Free        uint64
	Used        uint64
	UsedPercent float64
}

// diskUsageFn is replaced in tests to avoid depending on the host filesystem.
var diskUsageFn = diskUsage

func diskUsage(path string) (DiskUsage, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return DiskUsage{}, errors.Wrapf(err, "failed to statfs %s", path)
	}

	bsize := uint64(st.Bsize)
	usage := DiskUsage{
		Total: st.Blocks * bsize,
		// Free space available to unprivileged processes.
		Free: st.Bavail * bsize,
	}
	usage.Used = usage.Total - st.Bfree*bsize
	if usage.Total > 0 {
		usage.UsedPercent = float64(usage.Used) / float64(usage.Total) * 100
	}
	return usage, nil
}
