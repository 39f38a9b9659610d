package iso

import (
	"testing"

	"github.com/ntounix-prog/glassdome/internal/domain"
)

func TestBuildNoCloudContainsPayload(t *testing.T) {
	param := domain.LinuxCloudInit{
		UserData: "#cloud-config\nhostname: lab-vm-1\n",
		MetaData: "instance-id: lab-vm-1\n",
	}
	img, err := BuildNoCloud(param)
	if err != nil {
		t.Fatalf("BuildNoCloud: %v", err)
	}
	if len(img) == 0 {
		t.Fatal("expected non-empty iso image")
	}
}

func TestBuildConfigDriveContainsPayload(t *testing.T) {
	param := domain.WindowsCloudbaseInit{
		MetaDataJSON:   `{"hostname":"lab-win-1"}`,
		UserDataScript: "#ps1_sysnative\n",
	}
	img, err := BuildConfigDrive(param)
	if err != nil {
		t.Fatalf("BuildConfigDrive: %v", err)
	}
	if len(img) == 0 {
		t.Fatal("expected non-empty iso image")
	}
}
