package sidecar

import "encoding/xml"

const rdfNS = "http://www.w3.org/1999/02/22-rdf-syntax-ns#"
const csNS = "http://cutespam.nightfall.dev/xmp/1.0/"
const xmlLangNS = "http://www.w3.org/XML/1998/namespace"

// bag is an RDF Bag of text leaves — the container form used for every
// multi-valued field (authors, keywords, collections, source_other,
// source_via), per spec.md §6.1.
type bag struct {
	Items []string `xml:"http://www.w3.org/1999/02/22-rdf-syntax-ns# li"`
}

// altLi is the single default-language entry of an RDF Alt container.
type altLi struct {
	Lang string `xml:"http://www.w3.org/XML/1998/namespace lang,attr"`
	Text string `xml:",chardata"`
}

type alt struct {
	Li altLi `xml:"http://www.w3.org/1999/02/22-rdf-syntax-ns# li"`
}

// listField wraps a Bag container inside its own named element, e.g.
// <cs:authors><rdf:Bag>...</rdf:Bag></cs:authors>.
type listField struct {
	XMLName xml.Name
	Bag     bag `xml:"http://www.w3.org/1999/02/22-rdf-syntax-ns# Bag"`
}

// altField wraps an Alt container, used only for caption.
type altField struct {
	XMLName xml.Name
	Alt     alt `xml:"http://www.w3.org/1999/02/22-rdf-syntax-ns# Alt"`
}

// description is the RDF Description node: simple fields are plain
// attributes, multi-valued fields are child elements.
type description struct {
	XMLName xml.Name `xml:"http://www.w3.org/1999/02/22-rdf-syntax-ns# Description"`

	UID         string `xml:"uid,attr,omitempty"`
	Hash        string `xml:"hash,attr,omitempty"`
	Source      string `xml:"source,attr,omitempty"`
	GroupID     string `xml:"groupId,attr,omitempty"`
	Rating      string `xml:"rating,attr,omitempty"`
	Date        string `xml:"date,attr,omitempty"`
	LastUpdated string `xml:"lastUpdated,attr,omitempty"`

	Caption     *altField  `xml:"http://cutespam.nightfall.dev/xmp/1.0/ caption"`
	Authors     *listField `xml:"http://cutespam.nightfall.dev/xmp/1.0/ authors"`
	Keywords    *listField `xml:"http://cutespam.nightfall.dev/xmp/1.0/ keywords"`
	Collections *listField `xml:"http://cutespam.nightfall.dev/xmp/1.0/ collections"`
	SourceOther *listField `xml:"http://cutespam.nightfall.dev/xmp/1.0/ sourceOther"`
	SourceVia   *listField `xml:"http://cutespam.nightfall.dev/xmp/1.0/ sourceVia"`
}

// document is the root <rdf:RDF> element of a sidecar file.
type document struct {
	XMLName     xml.Name    `xml:"http://www.w3.org/1999/02/22-rdf-syntax-ns# RDF"`
	Description description `xml:"http://www.w3.org/1999/02/22-rdf-syntax-ns# Description"`
}

func newListField(localName string, items []string) *listField {
	if len(items) == 0 {
		return nil
	}
	return &listField{
		XMLName: xml.Name{Space: csNS, Local: localName},
		Bag:     bag{Items: items},
	}
}

func newAltField(localName, text string) *altField {
	if text == "" {
		return nil
	}
	return &altField{
		XMLName: xml.Name{Space: csNS, Local: localName},
		Alt:     alt{Li: altLi{Lang: "x-default", Text: text}},
	}
}

func bagItems(f *listField) []string {
	if f == nil {
		return nil
	}
	return f.Bag.Items
}

func altText(f *altField) string {
	if f == nil {
		return ""
	}
	return f.Alt.Li.Text
}
