package monitoring

import (
	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
)

// Workbook sheet names.
const (
	SheetDaily  = "Daily"
	SheetWeekly = "Weekly"
)

// WriteWorkbook saves daily and weekly rollups to an xlsx file, one row per
// rollup. API call columns cover every request type seen in either sheet.
func WriteWorkbook(path string, daily, weekly []Rollup) error {
	types := CallTypes(append(append([]Rollup{}, daily...), weekly...)...)

	f := xlsx.NewFile()
	for _, s := range []struct {
		name string
		rows []Rollup
	}{
		{SheetDaily, daily},
		{SheetWeekly, weekly},
	} {
		sheet, err := f.AddSheet(s.name)
		if err != nil {
			return eris.Wrapf(err, "monitoring: add sheet %s", s.name)
		}
		writeRollups(sheet, types, s.rows)
	}

	if err := f.Save(path); err != nil {
		return eris.Wrapf(err, "monitoring: save workbook %s", path)
	}
	return nil
}

func writeRollups(sheet *xlsx.Sheet, types []string, rows []Rollup) {
	header := sheet.AddRow()
	for _, h := range []string{"from", "to"} {
		header.AddCell().SetString(h)
	}
	for _, t := range types {
		header.AddCell().SetString("api." + t)
	}
	for _, h := range []string{"api_total", "denied", "created", "updated", "est_cost_usd"} {
		header.AddCell().SetString(h)
	}

	for _, r := range rows {
		row := sheet.AddRow()
		row.AddCell().SetString(r.From)
		row.AddCell().SetString(r.To)
		for _, t := range types {
			row.AddCell().SetInt(r.APICalls[t])
		}
		row.AddCell().SetInt(r.APITotal)
		row.AddCell().SetInt(r.Denied)
		row.AddCell().SetInt(r.Created)
		row.AddCell().SetInt(r.Updated)
		row.AddCell().SetFloat(r.CostUSD)
	}
}
