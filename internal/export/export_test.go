package export

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/menu-extractor/internal/model"
)

const categoriesJSON = `{"restaurant_name":"Caffè & Dolci","pages":[` +
	`{"page_number":1,"data":{"categories":[{"name_raw":"Antipasti","subcategories":[]}]}},` +
	`{"page_number":2,"data":{"categories":[{"name_raw":"Primi","subcategories":[{"name_raw":"Pasta"},{"name_raw":"Risotto"}]}]}}]}`

const itemsJSON = `{"restaurant_name":"Zia","pages":[{"page_number":1,"categories":[{` +
	`"name_raw":"Pizza","category_items":[{"items":[` +
	`{"name_raw":"Margherita","description_raw":null,"variations":[` +
	`{"name_raw":"Small","price":{"amount":9,"currency":"EUR"},"size":"10in"},` +
	`{"name_raw":"Large","price":{"amount":13.5,"currency":"EUR"},"size":null}],"base_price":null,"size":null},` +
	`{"name_raw":"Focaccia","description_raw":"rosemary","variations":[],"base_price":{"amount":4,"currency":null},"size":null}` +
	`],"description_raw":null}],"subcategory_items":[],"note":"No notes provided"}]}]}`

const basesJSON = `{"restaurant_name":"Zia","pages":[{"page_number":1,"categories":[{` +
	`"name_raw":"Pizza","base_options":[{"name_raw":"Thin crust","price":null,"default":true,"price_by_variation":[]}],` +
	`"subcategories_base":[{"name_raw":"Gluten free","price":null,"default":false,"price_by_variation":[` +
	`{"variation_name":"Small","price":{"amount":2,"currency":"EUR"}},{"variation_name":"Large","price":{"amount":3,"currency":"EUR"}}]}]}]}]}`

const addonsJSON = `{"restaurant_name":"Zia","pages":[{"page_number":1,"categories":[{` +
	`"name_raw":"Pizza","items_addons":[{"name_raw":"Margherita","addons":[` +
	`{"name_raw":"Burrata","default":false,"price":{"amount":3,"currency":"EUR"},"price_by_variation":[]}]}],` +
	`"subcategory_items":[{"name_raw":"Bianche","items_addons":[{"name_raw":"Patate","addons":[` +
	`{"name_raw":"Truffle","default":false,"price":null,"price_by_variation":[]},` +
	`{"name_raw":"Rocket","default":true,"price":null,"price_by_variation":[]}]}]}]}]}]}`

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    Format
		wantErr bool
	}{
		{in: "json", want: FormatJSON},
		{in: "YAML", want: FormatYAML},
		{in: " yml ", want: FormatYAML},
		{in: "xlsx", want: FormatXLSX},
		{in: "csv", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseFormat(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestContentType(t *testing.T) {
	assert.Equal(t, "application/json", FormatJSON.ContentType())
	assert.Equal(t, "application/yaml", FormatYAML.ContentType())
	assert.Contains(t, FormatXLSX.ContentType(), "spreadsheetml")
}

func TestJSON_KeepsFieldOrderAndText(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, JSON(&buf, model.StageCategories, []byte(categoriesJSON)))

	out := buf.String()
	assert.Contains(t, out, `"restaurant_name": "Caffè & Dolci"`)
	assert.NotContains(t, out, `\u0026`)
	assert.Less(t, bytes.Index(buf.Bytes(), []byte("restaurant_name")), bytes.Index(buf.Bytes(), []byte("pages")))
	assert.Contains(t, out, "\n  \"pages\": [")
	assert.True(t, bytes.HasSuffix(buf.Bytes(), []byte("}\n")))
}

func TestJSON_Invalid(t *testing.T) {
	var buf bytes.Buffer
	assert.Error(t, JSON(&buf, model.StageItems, []byte(`{"pages":`)))
	assert.Error(t, JSON(&buf, model.Stage(9), []byte(`{}`)))
}

func TestYAML_BlockStyle(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, YAML(&buf, []byte(categoriesJSON)))

	out := buf.String()
	assert.Contains(t, out, "restaurant_name: Caffè & Dolci\n")
	assert.Contains(t, out, "  - page_number: 1\n")
	assert.Contains(t, out, "name_raw: Risotto")
	assert.Contains(t, out, "subcategories: []")
	assert.NotContains(t, out, "{")
	assert.Less(t, bytes.Index(buf.Bytes(), []byte("restaurant_name")), bytes.Index(buf.Bytes(), []byte("pages")))
}

func TestYAML_QuotesAmbiguousStrings(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, YAML(&buf, []byte(`{"restaurant_name":"123","open":"true","n":5}`)))

	out := buf.String()
	assert.Contains(t, out, `restaurant_name: "123"`)
	assert.Contains(t, out, `open: "true"`)
	assert.Contains(t, out, "n: 5")
}

func TestYAML_Invalid(t *testing.T) {
	var buf bytes.Buffer
	assert.Error(t, YAML(&buf, []byte(`{"a": [`)))
}

func sheetRows(t *testing.T, stage model.Stage, data string) [][]string {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, XLSX(&buf, stage, []byte(data)))

	f, err := xlsx.OpenBinary(buf.Bytes())
	require.NoError(t, err)
	sheet, ok := f.Sheet[stage.String()]
	require.True(t, ok, "sheet %s", stage)

	var rows [][]string
	for _, r := range sheet.Rows {
		var cells []string
		for _, c := range r.Cells {
			cells = append(cells, c.Value)
		}
		rows = append(rows, cells)
	}
	return rows
}

func TestXLSX_Categories(t *testing.T) {
	rows := sheetRows(t, model.StageCategories, categoriesJSON)
	require.Len(t, rows, 4)
	assert.Equal(t, []string{"page", "category", "subcategory"}, rows[0])
	assert.Equal(t, "Antipasti", rows[1][1])
	assert.Equal(t, "Pasta", rows[2][2])
	assert.Equal(t, "Risotto", rows[3][2])
}

func TestXLSX_Items(t *testing.T) {
	rows := sheetRows(t, model.StageItems, itemsJSON)
	require.Len(t, rows, 4)
	assert.Equal(t, "variation", rows[0][5])

	assert.Equal(t, "Margherita", rows[1][3])
	assert.Equal(t, "Small", rows[1][5])
	assert.Equal(t, "9", rows[1][6])
	assert.Equal(t, "10in", rows[1][8])
	assert.Equal(t, "Large", rows[2][5])
	assert.Equal(t, "13.5", rows[2][6])

	assert.Equal(t, "Focaccia", rows[3][3])
	assert.Equal(t, "rosemary", rows[3][4])
	assert.Equal(t, "4", rows[3][6])
}

func TestXLSX_Bases(t *testing.T) {
	rows := sheetRows(t, model.StageBases, basesJSON)
	require.Len(t, rows, 3)
	assert.Equal(t, "category", rows[1][2])
	assert.Equal(t, "Thin crust", rows[1][3])
	assert.Equal(t, "subcategories", rows[2][2])
	assert.Equal(t, "Small=2; Large=3", rows[2][7])
}

func TestXLSX_Addons(t *testing.T) {
	rows := sheetRows(t, model.StageAddons, addonsJSON)
	require.Len(t, rows, 4)
	assert.Equal(t, []string{"1", "Pizza", "", "Margherita", "Burrata"}, rows[1][:5])
	assert.Equal(t, "Bianche", rows[2][2])
	assert.Equal(t, "Rocket", rows[3][4])
}

func TestWrite_Dispatch(t *testing.T) {
	for _, f := range []Format{FormatJSON, FormatYAML, FormatXLSX} {
		var buf bytes.Buffer
		require.NoError(t, Write(&buf, f, model.StageAddons, []byte(addonsJSON)), f)
		assert.NotZero(t, buf.Len())
	}
	assert.Error(t, Write(&bytes.Buffer{}, Format("csv"), model.StageAddons, []byte(addonsJSON)))
}
