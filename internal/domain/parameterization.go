package domain

// Parameterization is the opaque guest-bootstrap payload the OS Provisioner
// hands to a Platform Adapter. It is a tagged sum type with exactly one
// populated arm — the REDESIGN FLAG from spec §9 replacing the source's
// loosely-typed configuration maps. Adapters type-switch on Kind(), never
// probe for optional fields.
type Parameterization interface {
	parameterizationKind() ParameterizationKind
}

// ParameterizationKind names the populated arm of a Parameterization value.
type ParameterizationKind string

const (
	ParamLinuxCloudInit         ParameterizationKind = "linux_cloud_init"
	ParamWindowsCloudbaseInit   ParameterizationKind = "windows_cloudbase_init"
	ParamWindowsAutounattend    ParameterizationKind = "windows_autounattend"
	ParamPlatformAssigned       ParameterizationKind = "platform_assigned"
)

// Kind returns the arm populated by p, usable without a type switch.
func Kind(p Parameterization) ParameterizationKind { return p.parameterizationKind() }

// LinuxCloudInit carries Linux cloud-init user-data/meta-data/network-config
// (spec glossary: "Cloud-init"). SSHKeysBase64 is the base64-encoded
// authorized_keys payload required by spec §6 ("base64 is required").
type LinuxCloudInit struct {
	UserData      string
	MetaData      string
	NetworkConfig string
	SSHKeysBase64 string
}

func (LinuxCloudInit) parameterizationKind() ParameterizationKind { return ParamLinuxCloudInit }

// WindowsCloudbaseInit carries a ConfigDrive-style payload for templates with
// cloudbase-init pre-installed pre-sysprep (spec glossary, spec §6).
type WindowsCloudbaseInit struct {
	MetaDataJSON     string
	UserDataScript   string
	CloudbaseInitConf string
}

func (WindowsCloudbaseInit) parameterizationKind() ParameterizationKind {
	return ParamWindowsCloudbaseInit
}

// WindowsAutounattend carries an autounattend.xml for a bare-ISO Windows
// install with no cloud-aware template available.
type WindowsAutounattend struct {
	AutounattendXML string
}

func (WindowsAutounattend) parameterizationKind() ParameterizationKind {
	return ParamWindowsAutounattend
}

// PlatformAssigned signals that the platform itself assigns networking and
// identity (spec §4.2: "Cloud default network -> platform-assigned IP"); no
// guest-bootstrap payload is needed beyond whatever the native API accepts
// as instance metadata.
type PlatformAssigned struct {
	Metadata map[string]string
}

func (PlatformAssigned) parameterizationKind() ParameterizationKind { return ParamPlatformAssigned }
