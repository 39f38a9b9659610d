// Package postconfig drives the external configuration-management tool
// named in spec §4.3's PostConfig task (and spec §1's deliberate
// vulnerability injection): it renders an inventory for one target VM and
// invokes the teacher's external-process boundary pattern — nothing here
// embeds a scripting VM of its own, the same way the teacher's Automation
// service only ever contracts out to an external dispatcher rather than
// interpreting job bodies itself.
package postconfig

import (
	"gopkg.in/yaml.v3"

	"github.com/ntounix-prog/glassdome/internal/domain"
	"github.com/ntounix-prog/glassdome/internal/errs"
)

type inventoryHost struct {
	Vars map[string]string `yaml:",inline"`
}

type inventoryGroup struct {
	Hosts map[string]inventoryHost `yaml:"hosts"`
}

type inventoryDoc struct {
	All struct {
		Children map[string]inventoryGroup `yaml:"children"`
	} `yaml:"all"`
}

// renderInventory builds a single-host ansible-compatible YAML inventory
// grouped by the step's Group (spec §4.3: "PostConfig" groups hosts by
// tagged purpose, e.g. "vulnerable-web" vs "hardened-jumpbox").
func renderInventory(vmName, host string, step domain.PostConfigStep) ([]byte, error) {
	if host == "" {
		return nil, errs.NewValidation("host", "post-config for %q requires a reachable ip", vmName)
	}
	group := step.Group
	if group == "" {
		group = "ungrouped"
	}

	vars := map[string]string{"ansible_host": host}
	for k, v := range step.Vars {
		vars[k] = v
	}

	doc := inventoryDoc{}
	doc.All.Children = map[string]inventoryGroup{
		group: {Hosts: map[string]inventoryHost{vmName: {Vars: vars}}},
	}

	out, err := yaml.Marshal(doc)
	if err != nil {
		return nil, errs.NewPermanent("render inventory for %q: %v", vmName, err)
	}
	return out, nil
}
