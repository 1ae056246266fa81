package sheet

import (
	"github.com/formpilot/formpilot/internal/domain"
)

// Info describes one sheet and the form page it fills
type Info struct {
	Name       string `json:"name"`
	Index      int    `json:"index"`
	PageNumber int    `json:"page_number"`
	PageName   string `json:"page_name"`
}

// SheetNames lists the sheets of a workbook in workbook order
func SheetNames(path string) ([]string, error) {
	f, err := openWorkbook(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return f.GetSheetList(), nil
}

// SheetIndex returns the zero-based position of a sheet, or -1 if it does not exist
func SheetIndex(path, name string) (int, error) {
	names, err := SheetNames(path)
	if err != nil {
		return -1, err
	}
	return indexOf(names, name), nil
}

// Describe lists every sheet with the page it maps to
func Describe(path string) ([]Info, error) {
	names, err := SheetNames(path)
	if err != nil {
		return nil, err
	}

	infos := make([]Info, 0, len(names))
	for i, name := range names {
		page := domain.PageForOrdinal(i)
		infos = append(infos, Info{
			Name:       name,
			Index:      i,
			PageNumber: page,
			PageName:   domain.PageName(page),
		})
	}
	return infos, nil
}
