// Package cloudinit builds the three guest-bootstrap payload styles named in
// spec §4.1/§6: Linux cloud-init, Windows cloudbase-init ConfigDrive, and
// Windows autounattend for bare-ISO installs. Rendering is grounded on the
// Proxmox provider's pkg/cloudinit split (metadata/network/render), adapted
// here to produce domain.Parameterization values instead of Proxmox-native
// strings.
package cloudinit

import (
	"encoding/base64"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ntounix-prog/glassdome/internal/domain"
	"github.com/ntounix-prog/glassdome/internal/errs"
)

// LinuxUserData is the subset of cloud-init user-data Glassdome renders:
// users, SSH keys, packages, and the guest-agent install step.
type LinuxUserData struct {
	Hostname     string   `yaml:"hostname"`
	Users        []cloudInitUser `yaml:"users"`
	PackageUpdate bool    `yaml:"package_update"`
	Packages     []string `yaml:"packages,omitempty"`
	RunCmd       []string `yaml:"runcmd,omitempty"`
}

type cloudInitUser struct {
	Name              string   `yaml:"name"`
	Sudo              string   `yaml:"sudo"`
	Shell             string   `yaml:"shell"`
	SSHAuthorizedKeys []string `yaml:"ssh_authorized_keys"`
	LockPasswd        bool     `yaml:"lock_passwd"`
}

// BuildLinuxCloudInit renders a domain.LinuxCloudInit from a VMSpec. It
// rejects a missing SSH public key outright (spec §8: "Cloud-init template
// cloned without an sshkeys payload must be rejected by the provisioner
// (Validation), because password auth is disabled").
func BuildLinuxCloudInit(spec domain.VMSpec, guestAgentPackage string) (domain.LinuxCloudInit, error) {
	pubKey := strings.TrimSpace(spec.Credentials.SSHPublicKey)
	if pubKey == "" {
		return domain.LinuxCloudInit{}, errs.NewValidation(
			"credentials.ssh_public_key",
			"linux cloud-init templates require an sshkeys payload: password auth is disabled in base images",
		)
	}
	user := spec.Credentials.SSHUser
	if user == "" {
		user = "labadmin"
	}

	packages := []string{}
	runcmd := []string{}
	if guestAgentPackage != "" {
		packages = append(packages, guestAgentPackage)
		runcmd = append(runcmd, fmt.Sprintf("systemctl enable --now %s", guestAgentServiceName(guestAgentPackage)))
	}

	ud := LinuxUserData{
		Hostname:      spec.Name,
		PackageUpdate: true,
		Packages:      packages,
		RunCmd:        runcmd,
		Users: []cloudInitUser{{
			Name:              user,
			Sudo:              "ALL=(ALL) NOPASSWD:ALL",
			Shell:             "/bin/bash",
			SSHAuthorizedKeys: []string{pubKey},
			LockPasswd:        true,
		}},
	}

	body, err := yaml.Marshal(ud)
	if err != nil {
		return domain.LinuxCloudInit{}, errs.NewPermanent("render cloud-init user-data: %v", err)
	}
	userData := "#cloud-config\n" + string(body)

	metaData, err := yaml.Marshal(map[string]string{
		"instance-id":    spec.Name,
		"local-hostname": spec.Name,
	})
	if err != nil {
		return domain.LinuxCloudInit{}, errs.NewPermanent("render cloud-init meta-data: %v", err)
	}

	return domain.LinuxCloudInit{
		UserData:      userData,
		MetaData:      string(metaData),
		NetworkConfig: buildNetworkConfig(spec),
		SSHKeysBase64: base64.StdEncoding.EncodeToString([]byte(pubKey)),
	}, nil
}

func guestAgentServiceName(pkg string) string {
	switch pkg {
	case "qemu-guest-agent":
		return "qemu-guest-agent"
	default:
		return pkg
	}
}

// buildNetworkConfig renders cloud-init network-config v2 for a static IP
// assignment when the VM's attachment calls for one (spec §4.2 IP policy
// selection: ISOLATED on-prem requires a static address, never implicit DHCP).
func buildNetworkConfig(spec domain.VMSpec) string {
	for _, att := range spec.Networks {
		if att.IPPolicy == domain.IPPolicyStatic && att.StaticIP != "" {
			cfg := map[string]any{
				"version": 2,
				"ethernets": map[string]any{
					"eth0": map[string]any{
						"addresses": []string{att.StaticIP},
						"dhcp4":     false,
					},
				},
			}
			out, err := yaml.Marshal(cfg)
			if err != nil {
				return ""
			}
			return string(out)
		}
	}
	return ""
}
