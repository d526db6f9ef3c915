// Package validate holds the three front stages of the upload pipeline:
// the declared-type check, the magic-number content sniff, and the
// type-specific structural validation. Every check returns a model.Verdict
// for expected-bad input; errors are reserved for temp-file I/O failures.
package validate

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/studyshare/notegate/internal/model"
)

const (
	mimePDF       = "application/pdf"
	mimeDocLegacy = "application/msword"
	mimeDocOOXML  = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	mimePptLegacy = "application/vnd.ms-powerpoint"
	mimePptOOXML  = "application/vnd.openxmlformats-officedocument.presentationml.presentation"
	mimeText      = "text/plain"
	mimeMarkdown  = "text/markdown"
	mimePNG       = "image/png"
	mimeJPEG      = "image/jpeg"
	mimeOLE       = "application/x-ole-storage"
	mimeZip       = "application/zip"
)

// noteExtensions maps the allow-listed note extensions to their family.
var noteExtensions = map[string]model.FileFamily{
	".pdf":  model.FamilyPDF,
	".doc":  model.FamilyDocLegacy,
	".docx": model.FamilyDocOOXML,
	".ppt":  model.FamilySlidesLegacy,
	".pptx": model.FamilySlidesOOXML,
	".txt":  model.FamilyText,
	".md":   model.FamilyMarkdown,
}

// avatarExtensions is the separate allow-list for the profile-picture path.
var avatarExtensions = map[string]model.FileFamily{
	".png":  model.FamilyPNG,
	".jpg":  model.FamilyJPEG,
	".jpeg": model.FamilyJPEG,
}

// acceptedMIMEs lists every declared MIME accepted per family. Legacy and
// OOXML office MIME strings are aliases of each other within the same
// extension family: browsers and older clients disagree on which to send.
var acceptedMIMEs = map[model.FileFamily][]string{
	model.FamilyPDF:          {mimePDF},
	model.FamilyDocLegacy:    {mimeDocLegacy},
	model.FamilyDocOOXML:     {mimeDocOOXML, mimeDocLegacy},
	model.FamilySlidesLegacy: {mimePptLegacy},
	model.FamilySlidesOOXML:  {mimePptOOXML, mimePptLegacy},
	model.FamilyText:         {mimeText},
	model.FamilyMarkdown:     {mimeMarkdown, mimeText},
	model.FamilyPNG:          {mimePNG},
	model.FamilyJPEG:         {mimeJPEG},
}

// CheckDeclared validates the client-declared filename extension and MIME
// type against the allow-list, and their cross-consistency. No side effects.
func CheckDeclared(declaredName, declaredMIME string, avatar bool) model.Verdict {
	table := noteExtensions
	if avatar {
		table = avatarExtensions
	}
	ext := strings.ToLower(filepath.Ext(declaredName))
	family, ok := table[ext]
	if !ok {
		return model.Fail(model.RejectTypeMismatch,
			fmt.Sprintf("file extension %q is not allowed; allowed: %s", ext, allowedExtensions(table)))
	}
	declared := normalizeMIME(declaredMIME)
	for _, m := range acceptedMIMEs[family] {
		if declared == m {
			v := model.Pass()
			v.Family = family
			return v
		}
	}
	return model.Fail(model.RejectTypeMismatch,
		fmt.Sprintf("content type %q does not match extension %q (expected %s)",
			declared, ext, strings.Join(acceptedMIMEs[family], " or ")))
}

// normalizeMIME lowercases and drops parameters such as "; charset=utf-8".
func normalizeMIME(m string) string {
	m = strings.TrimSpace(strings.ToLower(m))
	if i := strings.IndexByte(m, ';'); i >= 0 {
		m = strings.TrimSpace(m[:i])
	}
	return m
}

func allowedExtensions(table map[string]model.FileFamily) string {
	exts := make([]string, 0, len(table))
	for ext := range table {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	return strings.Join(exts, ", ")
}
