// Package iso renders NoCloud / ConfigDrive ISO9660 images for platforms
// that inject parameterization via an attached CD-ROM rather than a
// platform-native cloud-init drive (spec §6: VMware "NoCloud ISO attached
// to an IDE/CD-ROM"). Grounded on github.com/diskfs/go-diskfs, an indirect
// dependency already present in the Proxmox provider's go.mod, promoted
// here to direct use since Glassdome's vSphere/bare-ESXi path genuinely
// authors these images rather than merely consuming a native drive.
package iso

import (
	"os"

	"github.com/diskfs/go-diskfs"
	"github.com/diskfs/go-diskfs/filesystem"
	"github.com/diskfs/go-diskfs/filesystem/iso9660"

	"github.com/ntounix-prog/glassdome/internal/domain"
	"github.com/ntounix-prog/glassdome/internal/errs"
)

// File is one named byte blob to place at the ISO's root.
type File struct {
	Name  string
	Bytes []byte
}

// BuildNoCloud writes a NoCloud-labeled ISO9660 image containing user-data
// and meta-data (and network-config, if present) for a LinuxCloudInit
// parameterization, returning the image bytes read back from disk.
func BuildNoCloud(param domain.LinuxCloudInit) ([]byte, error) {
	files := []File{
		{Name: "user-data", Bytes: []byte(param.UserData)},
		{Name: "meta-data", Bytes: []byte(param.MetaData)},
	}
	if param.NetworkConfig != "" {
		files = append(files, File{Name: "network-config", Bytes: []byte(param.NetworkConfig)})
	}
	return buildISO("cidata", files)
}

// BuildConfigDrive writes a ConfigDrive-labeled ISO9660 image containing the
// OpenStack-style metadata/userdata layout cloudbase-init's
// ConfigDriveService expects (spec §6: "ConfigDrive supplies meta_data.json
// and user_data").
func BuildConfigDrive(param domain.WindowsCloudbaseInit) ([]byte, error) {
	files := []File{
		{Name: "openstack/latest/meta_data.json", Bytes: []byte(param.MetaDataJSON)},
		{Name: "openstack/latest/user_data", Bytes: []byte(param.UserDataScript)},
	}
	return buildISO("config-2", files)
}

func buildISO(volumeLabel string, files []File) ([]byte, error) {
	tmp, err := os.CreateTemp("", "glassdome-*.iso")
	if err != nil {
		return nil, errs.NewPermanent("create temp iso file: %v", err)
	}
	path := tmp.Name()
	tmp.Close()
	defer os.Remove(path)

	size := estimateSize(files)
	disk, err := diskfs.Create(path, size, diskfs.SectorSizeDefault)
	if err != nil {
		return nil, errs.NewPermanent("create iso backing file: %v", err)
	}

	fspec := disk.FilesystemSpec(filesystem.TypeISO9660)
	fspec.VolumeLabel = volumeLabel
	fs, err := disk.CreateFilesystem(fspec)
	if err != nil {
		return nil, errs.NewPermanent("create iso9660 filesystem: %v", err)
	}

	for _, f := range files {
		if err := writeFile(fs, f); err != nil {
			return nil, err
		}
	}

	if iso, ok := fs.(*iso9660.FileSystem); ok {
		if err := iso.Finalize(iso9660.FinalizeOptions{}); err != nil {
			return nil, errs.NewPermanent("finalize iso9660 filesystem: %v", err)
		}
	}

	return os.ReadFile(path)
}

func writeFile(fs filesystem.FileSystem, f File) error {
	rw, err := fs.OpenFile(f.Name, os.O_CREATE|os.O_RDWR|os.O_TRUNC)
	if err != nil {
		return errs.NewPermanent("open %s in iso filesystem: %v", f.Name, err)
	}
	if _, err := rw.Write(f.Bytes); err != nil {
		return errs.NewPermanent("write %s in iso filesystem: %v", f.Name, err)
	}
	return nil
}

func estimateSize(files []File) int64 {
	var total int64 = 1 << 20 // 1 MiB floor for filesystem overhead
	for _, f := range files {
		total += int64(len(f.Bytes))
	}
	return total + (1 << 20)
}
