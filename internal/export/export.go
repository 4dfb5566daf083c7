// Package export writes stage artifacts as JSON, YAML or XLSX.
package export

import (
	"encoding/json"
	"io"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/menu-extractor/internal/model"
)

// Format is an output format.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
	FormatXLSX Format = "xlsx"
)

// ParseFormat accepts json, yaml (or yml) and xlsx.
func ParseFormat(v string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "json":
		return FormatJSON, nil
	case "yaml", "yml":
		return FormatYAML, nil
	case "xlsx":
		return FormatXLSX, nil
	}
	return "", eris.Errorf("export: unknown format %q (want json, yaml or xlsx)", v)
}

// ContentType returns the MIME type for f.
func (f Format) ContentType() string {
	switch f {
	case FormatYAML:
		return "application/yaml"
	case FormatXLSX:
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	}
	return "application/json"
}

// Write renders a stored stage artifact in the given format.
func Write(w io.Writer, f Format, stage model.Stage, data []byte) error {
	switch f {
	case FormatJSON:
		return JSON(w, stage, data)
	case FormatYAML:
		return YAML(w, data)
	case FormatXLSX:
		return XLSX(w, stage, data)
	}
	return eris.Errorf("export: unknown format %q", f)
}

// JSON writes the artifact indented by two spaces, with HTML characters and
// non-ASCII text unescaped.
func JSON(w io.Writer, stage model.Stage, data []byte) error {
	art, err := decode(stage, data)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	return eris.Wrap(enc.Encode(art), "export: encode json")
}

// decode parses data as the typed artifact of stage.
func decode(stage model.Stage, data []byte) (any, error) {
	var art any
	switch stage {
	case model.StageCategories:
		art = &model.CategoriesArtifact{}
	case model.StageItems:
		art = &model.ItemsArtifact{}
	case model.StageBases:
		art = &model.BasesArtifact{}
	case model.StageAddons:
		art = &model.AddonsArtifact{}
	default:
		return nil, eris.Errorf("export: unknown stage %d", int(stage))
	}
	if err := json.Unmarshal(data, art); err != nil {
		return nil, eris.Wrapf(err, "export: decode %s artifact", stage)
	}
	return art, nil
}

// YAML converts data to block-style YAML, keeping key order.
func YAML(w io.Writer, data []byte) error {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return eris.Wrap(err, "export: decode artifact")
	}
	blockStyle(&doc)

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(&doc); err != nil {
		return eris.Wrap(err, "export: encode yaml")
	}
	return eris.Wrap(enc.Close(), "export: flush yaml")
}

// blockStyle clears the flow and quoting styles a JSON document parses
// with. Strings that would read back as another type stay quoted.
func blockStyle(n *yaml.Node) {
	switch n.Kind {
	case yaml.MappingNode, yaml.SequenceNode:
		n.Style = 0
	case yaml.ScalarNode:
		if n.Tag == "!!str" {
			n.Style = 0
		}
	}
	for _, c := range n.Content {
		blockStyle(c)
	}
}
