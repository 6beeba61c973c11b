package packager

import (
	"archive/tar"
	"bytes"
	"fmt"
	"path"
	"sort"
	"strconv"
	"time"

	"datafactory/internal/generator"
	"datafactory/pkg/models"
)

// Object is one addressable artifact entry, keyed relative to the
// configured output root.
type Object struct {
	Key  string
	Body []byte
}

// Artifact is the packaged output of one task. Its keys depend only on
// the task message and its bytes only on the sample content, so
// re-executing a task reproduces it exactly.
type Artifact struct {
	Objects []Object
}

// Package turns a task's samples into its output artifact. Files mode
// keys every asset individually as {type}/{start_index}/{sample_id}/{asset};
// tar mode emits a single {type}/{start_index}.tar whose entries use
// the same {sample_id}/{asset} layout.
func Package(task models.TaskMessage, samples []generator.Sample) (Artifact, error) {
	switch task.Format() {
	case models.OutputFormatFiles:
		return packageFiles(task, samples), nil
	case models.OutputFormatTar:
		return packageTar(task, samples)
	default:
		return Artifact{}, fmt.Errorf("unsupported output format %q", task.OutputFormat)
	}
}

func taskPrefix(task models.TaskMessage) string {
	return path.Join(task.Type, strconv.Itoa(task.StartIndex))
}

func sortedAssetNames(sample generator.Sample) []string {
	names := make([]string, 0, len(sample.Assets))
	for name := range sample.Assets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func packageFiles(task models.TaskMessage, samples []generator.Sample) Artifact {
	var artifact Artifact
	prefix := taskPrefix(task)
	for _, sample := range samples {
		for _, name := range sortedAssetNames(sample) {
			artifact.Objects = append(artifact.Objects, Object{
				Key:  path.Join(prefix, sample.ID, name),
				Body: sample.Assets[name],
			})
		}
	}
	return artifact
}

func packageTar(task models.TaskMessage, samples []generator.Sample) (Artifact, error) {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)

	// Fixed header fields and sorted asset order keep the archive
	// byte-identical across runs.
	for _, sample := range samples {
		for _, name := range sortedAssetNames(sample) {
			body := sample.Assets[name]
			hdr := &tar.Header{
				Name:    path.Join(sample.ID, name),
				Mode:    0o644,
				Size:    int64(len(body)),
				ModTime: time.Unix(0, 0),
				Format:  tar.FormatUSTAR,
			}
			if err := tw.WriteHeader(hdr); err != nil {
				return Artifact{}, fmt.Errorf("failed to write tar header for %s: %w", hdr.Name, err)
			}
			if _, err := tw.Write(body); err != nil {
				return Artifact{}, fmt.Errorf("failed to write tar entry %s: %w", hdr.Name, err)
			}
		}
	}
	if err := tw.Close(); err != nil {
		return Artifact{}, fmt.Errorf("failed to finalize tar archive: %w", err)
	}

	return Artifact{Objects: []Object{{
		Key:  taskPrefix(task) + ".tar",
		Body: buf.Bytes(),
	}}}, nil
}
