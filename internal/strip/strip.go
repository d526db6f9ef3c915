// Package strip removes embedded metadata (author, GPS, software tags) from
// validated files before they reach permanent storage. Stripping writes to a
// new path and removes the input only on success; on any failure the
// original file is left untouched and the caller decides what to do.
package strip

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"os"
	"os/exec"
	"time"

	"github.com/studyshare/notegate/internal/model"
)

// ErrToolMissing reports that the external stripping tool is not installed.
// Callers treat it as a non-blocking degradation, not a rejection.
var ErrToolMissing = errors.New("exiftool not installed")

// Result describes what the stripper did. Path is always usable: either the
// sanitized copy or, when Stripped is false, the untouched original.
type Result struct {
	Path     string
	Stripped bool
	Detail   string
}

type stripper func(ctx context.Context, path string) (Result, error)

// strippers dispatches by file family. Text and markdown carry no metadata
// block, so they pass through.
var strippers = map[model.FileFamily]stripper{
	model.FamilyPDF:          stripWithExiftool,
	model.FamilyDocLegacy:    stripWithExiftool,
	model.FamilyDocOOXML:     stripWithExiftool,
	model.FamilySlidesLegacy: stripWithExiftool,
	model.FamilySlidesOOXML:  stripWithExiftool,
	model.FamilyPNG:          stripImage,
	model.FamilyJPEG:         stripImage,
}

// Strip removes embedded metadata from the file for its family. A missing
// external tool degrades to the family's fallback (image re-encode, or
// keep-original for documents) rather than failing the upload.
func Strip(ctx context.Context, path string, family model.FileFamily) (Result, error) {
	fn, ok := strippers[family]
	if !ok {
		return Result{Path: path, Detail: "no metadata block for this type"}, nil
	}
	return fn(ctx, path)
}

// stripWithExiftool runs "exiftool -all= -o out in". When exiftool is
// absent the original bytes are kept; the caller logs the degradation.
func stripWithExiftool(ctx context.Context, path string) (Result, error) {
	out, err := runExiftool(ctx, path)
	if err != nil {
		if errors.Is(err, ErrToolMissing) {
			return Result{Path: path, Detail: "exiftool unavailable, metadata kept"}, err
		}
		return Result{Path: path, Detail: "exiftool failed, metadata kept"}, err
	}
	return replaceOriginal(path, out, "exiftool")
}

// stripImage prefers exiftool for images too, but can always fall back to an
// in-process re-encode, which drops every ancillary chunk by construction.
func stripImage(ctx context.Context, path string) (Result, error) {
	out, err := runExiftool(ctx, path)
	if err == nil {
		return replaceOriginal(path, out, "exiftool")
	}
	return reencodeImage(path)
}

// replaceOriginal deletes the input once the sanitized copy is in place. If
// the delete itself fails the sanitized copy is dropped so exactly one file
// survives either way.
func replaceOriginal(path, out, detail string) (Result, error) {
	if err := os.Remove(path); err != nil {
		os.Remove(out)
		return Result{Path: path, Detail: "strip aborted, metadata kept"},
			fmt.Errorf("remove original after strip: %w", err)
	}
	return Result{Path: out, Stripped: true, Detail: detail}, nil
}

// toolTimeout bounds the external invocation so a hung exiftool cannot
// starve the request pool.
const toolTimeout = 30 * time.Second

func runExiftool(ctx context.Context, path string) (string, error) {
	if _, err := exec.LookPath("exiftool"); err != nil {
		return "", ErrToolMissing
	}
	ctx, cancel := context.WithTimeout(ctx, toolTimeout)
	defer cancel()
	out := path + ".stripped"
	cmd := exec.CommandContext(ctx, "exiftool", "-all=", "-o", out, path)
	if output, err := cmd.CombinedOutput(); err != nil {
		// Never leave a half-written output behind.
		os.Remove(out)
		if ctx.Err() != nil {
			return "", fmt.Errorf("exiftool timed out: %w", ctx.Err())
		}
		return "", fmt.Errorf("exiftool: %v (%s)", err, string(output))
	}
	return out, nil
}

// reencodeImage decodes and re-encodes the image, producing a file that
// contains pixels and nothing else.
func reencodeImage(path string) (Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return Result{Path: path}, fmt.Errorf("open image: %w", err)
	}
	img, format, err := image.Decode(f)
	f.Close()
	if err != nil {
		return Result{Path: path}, fmt.Errorf("decode image: %w", err)
	}

	out := path + ".stripped"
	dst, err := os.Create(out)
	if err != nil {
		return Result{Path: path}, fmt.Errorf("create stripped image: %w", err)
	}
	switch format {
	case "png":
		err = png.Encode(dst, img)
	default:
		err = jpeg.Encode(dst, img, &jpeg.Options{Quality: 92})
	}
	if cerr := dst.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(out)
		return Result{Path: path}, fmt.Errorf("re-encode image: %w", err)
	}
	return replaceOriginal(path, out, "re-encode")
}
