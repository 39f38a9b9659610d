package osprovisioner

import (
	"github.com/ntounix-prog/glassdome/internal/domain"
	"github.com/ntounix-prog/glassdome/internal/errs"
	"github.com/ntounix-prog/glassdome/internal/platformcap"
)

// selectTemplate picks the best-matching Template for spec from the
// adapter's catalogue (spec §4.2 "OS Provisioner template catalogue"):
// exact OSVariant+OSVersion match first, then OSVariant-only, then the
// live-install fallback signaled by returning ok=false.
func selectTemplate(templates []platformcap.Template, spec domain.VMSpec) (platformcap.Template, bool) {
	var variantMatch *platformcap.Template

	for i := range templates {
		t := templates[i]
		if t.OSFamily != spec.OSFamily || t.OSVariant != spec.OSVariant {
			continue
		}
		if spec.OSVersion != "" && t.OSVersion == spec.OSVersion {
			return t, true
		}
		if variantMatch == nil {
			variantMatch = &templates[i]
		}
	}
	if variantMatch != nil {
		return *variantMatch, true
	}
	return platformcap.Template{}, false
}

// chooseDiskController applies spec §4.1's disk-controller rule: Windows
// guests default to SATA unless the matched template's VirtIO drivers are
// pre-baked; Linux guests always get VirtIO-SCSI.
func chooseDiskController(spec domain.VMSpec, tmpl platformcap.Template, hasTemplate bool) domain.DiskController {
	if spec.OSFamily == domain.OSLinux {
		return domain.ControllerVirtIOSCSI
	}
	if hasTemplate && tmpl.SupportsVirtIO {
		return domain.ControllerVirtIOSCSI
	}
	return domain.ControllerSATA
}

// validateSpec enforces the provisioner-level invariants from spec §8:
// a Linux template cloned without an SSH key is rejected before any
// platform call is made, and every spec must name at least one network.
func validateSpec(spec domain.VMSpec) error {
	if spec.Name == "" {
		return errs.NewValidation("name", "vm spec requires a name")
	}
	if len(spec.Networks) == 0 {
		return errs.NewValidation("networks", "vm spec %q requires at least one network attachment", spec.Name)
	}
	if spec.OSFamily == domain.OSLinux && spec.Credentials.SSHPublicKey == "" {
		return errs.NewValidation("credentials.ssh_public_key", "linux vm spec %q requires an ssh public key: password auth is disabled in base images", spec.Name)
	}
	if spec.OSFamily == domain.OSWindows && spec.Credentials.AdminPassword == "" {
		return errs.NewValidation("credentials.admin_password", "windows vm spec %q requires an admin password", spec.Name)
	}
	return nil
}
