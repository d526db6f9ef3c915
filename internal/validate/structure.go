package validate

import (
	"archive/zip"
	"bytes"
	"fmt"
	"os"
	"strings"

	pdf "github.com/ledongthuc/pdf"

	"github.com/studyshare/notegate/internal/model"
)

// structuralChecks dispatches the deep parse by file family. Families absent
// from the table have no container format worth probing: plain text and
// markdown carry none, legacy OLE files are already bound by their magic
// number, and raster images are decoded during metadata stripping.
var structuralChecks = map[model.FileFamily]func(path string) (model.Verdict, error){
	model.FamilyPDF:         checkPDF,
	model.FamilyDocOOXML:    checkZipContainer,
	model.FamilySlidesOOXML: checkZipContainer,
}

// CheckStructure runs the type-specific deep parse for families where that
// adds protection, catching truncated uploads and files crafted to break
// format parsers downstream.
func CheckStructure(path string, family model.FileFamily) (model.Verdict, error) {
	check, ok := structuralChecks[family]
	if !ok {
		return model.Pass(), nil
	}
	return check(path)
}

// checkPDF opens the document with a best-effort page parser and rejects it
// when the parse fails, the page tree is empty, or no page yields content.
func checkPDF(path string) (verdict model.Verdict, err error) {
	// The pdf library panics on some crafted inputs; a panic here is a
	// malformed file, not a server bug.
	defer func() {
		if r := recover(); r != nil {
			verdict = model.Fail(model.RejectCorruptStructure,
				fmt.Sprintf("pdf parse failed: %v", r))
			err = nil
		}
	}()

	data, err := os.ReadFile(path)
	if err != nil {
		return model.Verdict{}, fmt.Errorf("read pdf: %w", err)
	}
	doc, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return model.Fail(model.RejectCorruptStructure,
			fmt.Sprintf("pdf parse failed: %v", err)), nil
	}
	total := doc.NumPage()
	if total == 0 {
		return model.Fail(model.RejectCorruptStructure, "pdf has no pages"), nil
	}
	var builder strings.Builder
	for page := 1; page <= total; page++ {
		p := doc.Page(page)
		if p.V.IsNull() {
			continue
		}
		content, err := p.GetPlainText(nil)
		if err != nil {
			return model.Fail(model.RejectCorruptStructure,
				fmt.Sprintf("pdf page %d unreadable: %v", page, err)), nil
		}
		builder.WriteString(content)
	}
	if strings.TrimSpace(builder.String()) == "" {
		return model.Fail(model.RejectCorruptStructure, "pdf contains no readable content"), nil
	}
	return model.Pass(), nil
}

// checkZipContainer verifies that an OOXML document opens as the zip archive
// it is supposed to be.
func checkZipContainer(path string) (model.Verdict, error) {
	r, err := zip.OpenReader(path)
	if err != nil {
		return model.Fail(model.RejectCorruptStructure,
			fmt.Sprintf("document container unreadable: %v", err)), nil
	}
	defer r.Close()
	if len(r.File) == 0 {
		return model.Fail(model.RejectCorruptStructure, "document container is empty"), nil
	}
	return model.Pass(), nil
}
