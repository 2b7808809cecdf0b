// Package ora reads OpenRaster (.ora) files, the only layered input format
// with a documented cross-application structure. Only the parts needed for
// batch processing are parsed: layer hierarchy, offsets, opacity, visibility
// and the PNG data of each layer.
package ora

import (
	"archive/zip"
	"encoding/xml"
	"fmt"
	"io"
	"strconv"
)

// Stack is the root of a parsed OpenRaster file. Layers are ordered
// top-first, matching the order in stack.xml.
type Stack struct {
	Width  int
	Height int
	Layers []*Layer
}

// Layer is a single layer or layer group. Groups have Children and no Data.
type Layer struct {
	Name     string
	X        int
	Y        int
	Opacity  float64
	Visible  bool
	Locked   bool
	Group    bool
	Children []*Layer

	// PNG data for non-group layers.
	Data []byte
}

type xmlImage struct {
	XMLName xml.Name `xml:"image"`
	W       int      `xml:"w,attr"`
	H       int      `xml:"h,attr"`
	Stack   xmlStack `xml:"stack"`
}

// Order of <stack> and <layer> children is significant and interleaved, so
// children are captured generically instead of into per-element fields.
type xmlStack struct {
	Raw []rawChild `xml:",any"`
}

type rawChild struct {
	XMLName xml.Name
	Attrs   []xml.Attr `xml:",any,attr"`
	Raw     []rawChild `xml:",any"`
}

func (c rawChild) attr(name string) string {
	for _, a := range c.Attrs {
		if a.Name.Local == name {
			return a.Value
		}
	}
	return ""
}

// Read parses the OpenRaster file at path.
func Read(path string) (*Stack, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer zr.Close()

	data := map[string][]byte{}
	var stackXML []byte
	for _, f := range zr.File {
		b, err := readZipFile(f)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s in %s: %w", f.Name, path, err)
		}
		if f.Name == "stack.xml" {
			stackXML = b
		} else {
			data[f.Name] = b
		}
	}
	if stackXML == nil {
		return nil, fmt.Errorf("%s: missing stack.xml", path)
	}

	var img xmlImage
	if err := xml.Unmarshal(stackXML, &img); err != nil {
		return nil, fmt.Errorf("failed to parse stack.xml in %s: %w", path, err)
	}

	stack := &Stack{Width: img.W, Height: img.H}
	layers, err := buildLayers(img.Stack.Raw, data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	stack.Layers = layers
	return stack, nil
}

func readZipFile(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

func buildLayers(children []rawChild, data map[string][]byte) ([]*Layer, error) {
	var layers []*Layer
	for _, c := range children {
		switch c.XMLName.Local {
		case "layer":
			l := layerFromAttrs(c)
			src := c.attr("src")
			b, ok := data[src]
			if !ok {
				return nil, fmt.Errorf("layer %q references missing file %q", l.Name, src)
			}
			l.Data = b
			layers = append(layers, l)
		case "stack":
			l := layerFromAttrs(c)
			l.Group = true
			sub, err := buildLayers(c.Raw, data)
			if err != nil {
				return nil, err
			}
			l.Children = sub
			layers = append(layers, l)
		}
	}
	return layers, nil
}

func layerFromAttrs(c rawChild) *Layer {
	return &Layer{
		Name:    c.attr("name"),
		X:       atoiDefault(c.attr("x"), 0),
		Y:       atoiDefault(c.attr("y"), 0),
		Opacity: atofDefault(c.attr("opacity"), 1.0),
		Visible: c.attr("visibility") != "hidden",
		Locked:  c.attr("edit-locked") == "true",
	}
}

func atoiDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

func atofDefault(s string, def float64) float64 {
	if s == "" {
		return def
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return def
	}
	return f
}
