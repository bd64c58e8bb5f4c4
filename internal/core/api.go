package core

import "encoding/xml"

const (
	davNamespace      = "DAV:"
	statusOK          = "HTTP/1.1 200 OK"
	multistatusHeader = "application/xml; charset=utf-8"
)

// Multistatus represents the XML body of a 207 Multi-Status response.
type Multistatus struct {
	XMLName   xml.Name   `xml:"multistatus"`
	XMLNS     string     `xml:"xmlns,attr"`
	Responses []Response `xml:"response"`
}

// Response is the status of a single resource within a Multistatus.
type Response struct {
	Href     string   `xml:"href"`
	Propstat Propstat `xml:"propstat"`
}

// Propstat groups properties sharing one status. Prop is either
// DavProperties or PropNames.
type Propstat struct {
	Prop   any    `xml:"prop"`
	Status string `xml:"status"`
}

// DavProperties are the live properties rendered by PROPFIND. Empty
// properties are omitted.
type DavProperties struct {
	CreationDate       string        `xml:"creationdate,omitempty"`
	DisplayName        string        `xml:"displayname,omitempty"`
	GetContentLanguage string        `xml:"getcontentlanguage,omitempty"`
	GetContentLength   string        `xml:"getcontentlength,omitempty"`
	GetContentType     string        `xml:"getcontenttype,omitempty"`
	GetETag            string        `xml:"getetag,omitempty"`
	GetLastModified    string        `xml:"getlastmodified,omitempty"`
	ResourceType       *ResourceType `xml:"resourcetype"`
}

// ResourceType holds a collection element for collections and is empty for
// members.
type ResourceType struct {
	Collection *struct{} `xml:"collection,omitempty"`
}

// PropNames renders a list of empty property elements, as reported by
// PROPPATCH.
type PropNames []xml.Name

// MarshalXML writes each name as an empty element inside start.
func (p PropNames) MarshalXML(e *xml.Encoder, start xml.StartElement) error {
	if err := e.EncodeToken(start); err != nil {
		return err
	}

	for _, name := range p {
		elem := xml.StartElement{Name: name}
		if name.Space == "" {
			// Keep unqualified names out of the inherited DAV: namespace.
			elem.Attr = []xml.Attr{{Name: xml.Name{Local: "xmlns"}, Value: ""}}
		}
		if err := e.EncodeToken(elem); err != nil {
			return err
		}
		if err := e.EncodeToken(xml.EndElement{Name: name}); err != nil {
			return err
		}
	}

	return e.EncodeToken(start.End())
}

// NewMultistatus returns an empty Multistatus in the DAV: namespace.
func NewMultistatus() *Multistatus {
	return &Multistatus{XMLNS: davNamespace}
}

// Add appends an OK response for href carrying prop.
func (m *Multistatus) Add(href string, prop any) {
	m.Responses = append(m.Responses, Response{
		Href:     href,
		Propstat: Propstat{Prop: prop, Status: statusOK},
	})
}
