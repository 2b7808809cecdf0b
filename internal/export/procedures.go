package export

import (
	"fmt"
	"os"
	"path/filepath"

	"batchwand/internal/overwrite"
	"batchwand/internal/pathutil"
	"batchwand/internal/proc"
)

func init() {
	proc.RegisterProcedure(&proc.Procedure{
		Name: "export",
		Params: []proc.Param{
			{Name: "output_directory", Default: proc.OutputDirectory},
			{Name: "file_extension", Default: "png"},
			{Name: "quality", Default: 0.0},
			{Name: "overwrite_mode", Default: "ask"},
			{Name: "export_mode", Default: "each_item"},
			{Name: "single_image_name_pattern", Default: ""},
			{Name: "use_file_extension_in_item_name", Default: false},
			{Name: "convert_file_extension_to_lowercase", Default: false},
			{Name: "use_original_modification_date", Default: false},
			{Name: "rotate_flip_image_based_on_exif_metadata", Default: true},
		},
		New: newExportProcedure,
	})

	proc.RegisterProcedure(&proc.Procedure{
		Name: "save",
		Params: []proc.Param{
			{Name: "output_directory", Default: ""},
			{Name: "output_directory_for_new_images", Default: ""},
		},
		New: func() proc.ProcedureFunc {
			return NewSaver().Process
		},
	})
}

// newExportProcedure builds an exporter from the configured arguments on
// its first invocation and keeps it for the rest of the run.
func newExportProcedure() proc.ProcedureFunc {
	var exporter *Exporter
	return func(ctx proc.Context, args []any) (any, error) {
		if exporter == nil {
			exporter = New(optionsFromArgs(args))
		}
		return exporter.Process(ctx, args)
	}
}

func optionsFromArgs(args []any) FormatOptions {
	opts := DefaultFormatOptions()

	if q := floatArg(args, 2); q > 0 {
		opts.Quality = uint(q)
	}
	if mode, err := overwrite.ParseMode(stringArg(args, 3)); err == nil {
		opts.OverwriteMode = mode
	}
	if mode, err := ParseMode(stringArg(args, 4)); err == nil {
		opts.Mode = mode
	}
	opts.SingleImagePattern = stringArg(args, 5)
	opts.UseItemFileExtension = boolArg(args, 6)
	opts.LowercaseExtension = boolArg(args, 7)
	opts.UseOriginalModificationDate = boolArg(args, 8)
	opts.AutoOrient = boolArg(args, 9)
	return opts
}

// Saver implements the save procedure: it writes the current image back in
// its own format, to its own location unless an output folder is set. New
// images without a file location go to the fallback folder.
type Saver struct {
	Writer WriteFunc
}

// NewSaver returns a saver using the wand-backed writer.
func NewSaver() *Saver {
	return &Saver{Writer: defaultWriter}
}

// Process writes the current image and updates its file location. Runs
// without export processing leave the image untouched.
func (s *Saver) Process(ctx proc.Context, args []any) (any, error) {
	if !ctx.ProcessExport() {
		return nil, nil
	}

	img := ctx.CurrentImage()
	item := ctx.CurrentItem()
	if img == nil || item == nil {
		return nil, nil
	}

	ext := pathutil.FileExtension(img.Path)
	if ext == "" {
		ext = "miff"
	}

	filename := item.Name
	if pathutil.FileExtension(filename) != ext {
		filename += "." + ext
	}

	item.SaveState(exportNameState)
	setExportName(item, pathutil.ValidateFilename(filename))

	outputDirectory := stringArg(args, 0)
	if outputDirectory == "" && img.Path != "" {
		outputDirectory = filepath.Dir(img.Path)
	}
	if outputDirectory == "" {
		outputDirectory = stringArg(args, 1)
	}
	if outputDirectory == "" {
		return nil, proc.Skip("image %q has no file location and no output folder is set", item.Name)
	}

	outputPath := itemFilepath(item, outputDirectory)
	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return nil, newInvalidOutputDirectoryError(err, exportName(item), ext)
	}

	ctx.SetProgressText(fmt.Sprintf("Saving %q", outputPath))

	if err := s.Writer(img, outputPath, WriteOptions{}); err != nil {
		return nil, &Error{
			Message:       err.Error(),
			ItemName:      exportName(item),
			FileExtension: ext,
			Err:           err,
		}
	}

	if img.Path != outputPath {
		img.Path = outputPath
	}
	ctx.Logger().Debug("saved image", "path", outputPath)
	return nil, nil
}
