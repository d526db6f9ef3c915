package validate

import (
	"fmt"
	"io"
	"os"

	"github.com/gabriel-vasile/mimetype"

	"github.com/studyshare/notegate/internal/model"
)

// sniffLimit is how much of the file the printable-text heuristic reads.
// Magic-number detection has its own internal limit inside mimetype.
const sniffLimit = 512

// maxControlRatio is the fraction of control bytes above which a file
// claiming to be text is rejected.
const maxControlRatio = 0.10

// detectedFamilies maps sniffed MIME strings back onto the allow-list.
// OLE storage is the shared container of legacy .doc and .ppt, so it maps to
// whichever legacy family was declared (resolved in familiesCompatible).
var detectedFamilies = map[string]model.FileFamily{
	mimePDF:       model.FamilyPDF,
	mimeDocLegacy: model.FamilyDocLegacy,
	mimeDocOOXML:  model.FamilyDocOOXML,
	mimePptLegacy: model.FamilySlidesLegacy,
	mimePptOOXML:  model.FamilySlidesOOXML,
	mimeText:      model.FamilyText,
	mimeMarkdown:  model.FamilyMarkdown,
	mimePNG:       model.FamilyPNG,
	mimeJPEG:      model.FamilyJPEG,
}

// SniffContent determines the file's actual type from its bytes, ignoring
// the declared name and MIME. The declared family only matters for the
// plain-text fallback (text has no magic number) and the final agreement
// check. The returned error is a temp-file I/O failure, never a verdict.
func SniffContent(path string, declared model.FileFamily) (model.Verdict, error) {
	mt, err := mimetype.DetectFile(path)
	if err != nil {
		return model.Verdict{}, fmt.Errorf("sniff %s: %w", path, err)
	}
	detected := normalizeMIME(mt.String())

	family, known := detectedFamilies[detected]
	if !known {
		switch detected {
		case mimeOLE:
			// Generic OLE container: trust the declared legacy office
			// family, which stage 1 already pinned to the extension.
			if declared == model.FamilyDocLegacy || declared == model.FamilySlidesLegacy {
				family, known = declared, true
			}
		case mimeZip:
			// OOXML is zip; a container too damaged for full OOXML
			// detection still sniffs as zip. Let the structural stage
			// decide whether the archive actually opens.
			if declared == model.FamilyDocOOXML || declared == model.FamilySlidesOOXML {
				family, known = declared, true
			}
		}
	}
	if !known {
		if isTextFamily(declared) {
			return sniffPrintable(path, detected)
		}
		return model.Fail(model.RejectUnsupportedType,
			fmt.Sprintf("detected content type %q is not supported", detected)), nil
	}
	if !familiesCompatible(family, declared) {
		return model.Fail(model.RejectTypeMismatch,
			fmt.Sprintf("declared type %s but file content is %s", declared, detected)), nil
	}
	v := model.Pass()
	v.DetectedType = detected
	v.Family = family
	return v, nil
}

func isTextFamily(f model.FileFamily) bool {
	return f == model.FamilyText || f == model.FamilyMarkdown
}

// familiesCompatible accounts for known aliasing between detected and
// declared families: markdown sniffs as plain text, and a .docx is a valid
// answer to a declared legacy .doc (modern re-saves keep old extensions).
func familiesCompatible(detected, declared model.FileFamily) bool {
	if detected == declared {
		return true
	}
	switch declared {
	case model.FamilyMarkdown:
		return detected == model.FamilyText
	case model.FamilyDocLegacy:
		return detected == model.FamilyDocOOXML
	case model.FamilySlidesLegacy:
		return detected == model.FamilySlidesOOXML
	}
	return false
}

// sniffPrintable is the fallback for declared-text files whose bytes matched
// no signature: sample the head and reject when too many control characters
// appear. Tabs, newlines, carriage returns and form feeds are ordinary text.
func sniffPrintable(path string, detected string) (model.Verdict, error) {
	f, err := os.Open(path)
	if err != nil {
		return model.Verdict{}, fmt.Errorf("open for text sniff: %w", err)
	}
	defer f.Close()

	buf := make([]byte, sniffLimit)
	n, err := f.Read(buf)
	if err != nil && err != io.EOF {
		return model.Verdict{}, fmt.Errorf("read for text sniff: %w", err)
	}
	if n == 0 {
		return model.Fail(model.RejectCorruptStructure, "file is empty"), nil
	}
	control := 0
	for _, b := range buf[:n] {
		if b < 0x20 && b != '\t' && b != '\n' && b != '\r' && b != '\f' {
			control++
		}
	}
	if float64(control)/float64(n) > maxControlRatio {
		return model.Fail(model.RejectUnsupportedType,
			fmt.Sprintf("file declared as text but content appears binary (%q)", detected)), nil
	}
	v := model.Pass()
	v.DetectedType = mimeText
	v.Family = model.FamilyText
	return v, nil
}
