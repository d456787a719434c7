package keyvalstore

import (
	"errors"
	"fmt"
	"os"

	"github.com/shirou/gopsutil/disk"
	"github.com/sirupsen/logrus"
)

func (sc *StoreConfig) checkConfig() error {
	if sc.Path == "" {
		return errors.New("no path provided in configuration")
	}

	info, err := os.Stat(sc.Path)
	if os.IsNotExist(err) {
		return errors.New("path does not exist")
	}
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return errors.New("path is not a directory")
	}

	usage, err := disk.Usage(sc.Path)
	if err != nil {
		return fmt.Errorf("unable to read disk usage for %s: %w", sc.Path, err)
	}

	availableGB := usage.Free / (1024 * 1024 * 1024)
	if int(availableGB) < sc.MinimumFreeSpace {
		return errors.New("not enough space available on disk")
	}

	return nil
}

// displayDiskUsage logs the disk usage of the data path.
func displayDiskUsage(path string) error {
	usage, err := disk.Usage(path)
	if err != nil {
		return err
	}

	log.WithFields(logrus.Fields{
		"Path":       path,
		"Total (GB)": fmt.Sprintf("%.2f", float64(usage.Total)/1e9),
		"Used (GB)":  fmt.Sprintf("%.2f", float64(usage.Used)/1e9),
		"Free (GB)":  fmt.Sprintf("%.2f", float64(usage.Free)/1e9),
	}).Info("Disk Usage")

	return nil
}
