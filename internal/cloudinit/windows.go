package cloudinit

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ntounix-prog/glassdome/internal/domain"
	"github.com/ntounix-prog/glassdome/internal/errs"
)

// cloudbaseInitConf is the plugin selection cloudbase-init.conf needs (spec
// §6): ConfigDriveService plus the create-user/password/network/licensing/
// SSH-key plugins.
const cloudbaseInitConfTemplate = `[DEFAULT]
username = %s
groups = Administrators
inject_user_password = true
config_drive_raw_hhd = true
config_drive_cdrom = true
config_drive_vfat = true
metadata_services = cloudbaseinit.metadata.services.configdrive.ConfigDriveService
plugins = cloudbaseinit.plugins.common.userdata.UserDataPlugin,
          cloudbaseinit.plugins.windows.createuser.CreateUserPlugin,
          cloudbaseinit.plugins.common.setuserpassword.SetUserPasswordPlugin,
          cloudbaseinit.plugins.windows.networkconfig.NetworkConfigPlugin,
          cloudbaseinit.plugins.windows.licensing.WindowsLicensingPlugin,
          cloudbaseinit.plugins.windows.sshpublickeys.SetUserSSHPublicKeysPlugin
verbose = true
`

type cloudbaseMetadata struct {
	UUID         string              `json:"uuid"`
	Hostname     string              `json:"hostname"`
	Name         string              `json:"name"`
	PublicKeys   map[string]string   `json:"public_keys,omitempty"`
	NetworkConfig *cloudbaseNetwork  `json:"network_config,omitempty"`
}

type cloudbaseNetwork struct {
	ContentPath string `json:"content_path,omitempty"`
}

// BuildWindowsCloudbaseInit renders the ConfigDrive payload for a Windows
// template with cloudbase-init pre-installed pre-sysprep (spec §4.1 credential
// injection, §6 "a ConfigDrive supplies meta_data.json and user_data").
func BuildWindowsCloudbaseInit(spec domain.VMSpec) (domain.WindowsCloudbaseInit, error) {
	user := spec.Credentials.AdminUser
	if user == "" {
		user = "Administrator"
	}
	if strings.TrimSpace(spec.Credentials.AdminPassword) == "" {
		return domain.WindowsCloudbaseInit{}, errs.NewValidation(
			"credentials.admin_password",
			"windows cloudbase-init templates require an admin password",
		)
	}

	meta := cloudbaseMetadata{
		UUID:     spec.Name,
		Hostname: spec.Name,
		Name:     spec.Name,
	}
	if spec.Credentials.SSHPublicKey != "" {
		meta.PublicKeys = map[string]string{"0": spec.Credentials.SSHPublicKey}
	}
	metaJSON, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return domain.WindowsCloudbaseInit{}, errs.NewPermanent("render cloudbase-init meta_data.json: %v", err)
	}

	userScript := buildWindowsUserScript(user, spec.Credentials.AdminPassword)

	return domain.WindowsCloudbaseInit{
		MetaDataJSON:      string(metaJSON),
		UserDataScript:    userScript,
		CloudbaseInitConf: fmt.Sprintf(cloudbaseInitConfTemplate, user),
	}, nil
}

// buildWindowsUserScript renders the PowerShell user_data cloudbase-init
// runs on first boot: set the admin password and enable RDP (spec §8
// scenario 6: "enables RDP").
func buildWindowsUserScript(user, password string) string {
	var b strings.Builder
	b.WriteString("#ps1_sysnative\n")
	fmt.Fprintf(&b, "$user = [ADSI]\"WinNT://./%s,user\"\n", user)
	fmt.Fprintf(&b, "$user.SetPassword(%q)\n", password)
	b.WriteString("Set-ItemProperty -Path 'HKLM:\\System\\CurrentControlSet\\Control\\Terminal Server' -Name \"fDenyTSConnections\" -Value 0\n")
	b.WriteString("Enable-NetFirewallRule -DisplayGroup \"Remote Desktop\"\n")
	return b.String()
}

// BuildWindowsAutounattend renders a minimal autounattend.xml for a bare-ISO
// Windows install with no cloud-aware template available (spec §4.2
// fallback path). Kept on stdlib encoding/xml — no ecosystem template
// library for unattend XML appears anywhere in the retrieval pack (see
// DESIGN.md).
func BuildWindowsAutounattend(spec domain.VMSpec) (domain.WindowsAutounattend, error) {
	user := spec.Credentials.AdminUser
	if user == "" {
		user = "Administrator"
	}
	if strings.TrimSpace(spec.Credentials.AdminPassword) == "" {
		return domain.WindowsAutounattend{}, errs.NewValidation(
			"credentials.admin_password",
			"autounattend installs require an admin password",
		)
	}
	doc := renderAutounattendXML(spec.Name, user, spec.Credentials.AdminPassword)
	return domain.WindowsAutounattend{AutounattendXML: doc}, nil
}
