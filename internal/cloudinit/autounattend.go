package cloudinit

import (
	"bytes"
	"encoding/xml"
)

// unattendDoc is a deliberately small subset of the Windows unattend schema:
// computer name and the administrator account, enough to bring a bare-ISO
// install to a reachable RDP-enabled state (spec §8 scenario 6 applies the
// cloud-init path; this one covers the ISO-install fallback named in §4.2).
type unattendDoc struct {
	XMLName xml.Name `xml:"unattend"`
	Xmlns   string   `xml:"xmlns,attr"`
	Settings []unattendSettings `xml:"settings"`
}

type unattendSettings struct {
	Pass       string `xml:"pass,attr"`
	Components []unattendComponent `xml:"component"`
}

type unattendComponent struct {
	Name             string `xml:"name,attr"`
	ProcessorArch    string `xml:"processorArchitecture,attr"`
	PublicKeyToken   string `xml:"publicKeyToken,attr"`
	Language         string `xml:"language,attr"`
	VersionScope     string `xml:"versionScope,attr"`
	ComputerName     string `xml:"ComputerName,omitempty"`
	UserAccounts     *unattendUserAccounts `xml:"UserAccounts,omitempty"`
	AutoLogon        *unattendAutoLogon    `xml:"AutoLogon,omitempty"`
}

type unattendUserAccounts struct {
	AdministratorPassword unattendPassword `xml:"AdministratorPassword"`
}

type unattendAutoLogon struct {
	Password unattendPassword `xml:"Password"`
	Username string           `xml:"Username"`
	Enabled  string           `xml:"Enabled"`
}

type unattendPassword struct {
	Value       string `xml:"Value"`
	PlainText   string `xml:"PlainText"`
}

func renderAutounattendXML(computerName, adminUser, adminPassword string) string {
	doc := unattendDoc{
		Xmlns: "urn:schemas-microsoft-com:unattend",
		Settings: []unattendSettings{{
			Pass: "specialize",
			Components: []unattendComponent{{
				Name:           "Microsoft-Windows-Shell-Setup",
				ProcessorArch:  "amd64",
				PublicKeyToken: "31bf3856ad364e35",
				Language:       "neutral",
				VersionScope:   "nonSxS",
				ComputerName:   computerName,
				UserAccounts: &unattendUserAccounts{
					AdministratorPassword: unattendPassword{Value: adminPassword, PlainText: "true"},
				},
				AutoLogon: &unattendAutoLogon{
					Password: unattendPassword{Value: adminPassword, PlainText: "true"},
					Username: adminUser,
					Enabled:  "true",
				},
			}},
		}},
	}

	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return xml.Header
	}
	return buf.String()
}
