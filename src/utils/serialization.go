package utils

import (
	"encoding"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
)

// ErrArtifact marks a failure to read or write an artifact on disk.
var ErrArtifact = errors.New("artifact I/O failure")

// Serialize writes object to path, creating the parent directory when missing.
func Serialize(object any, path string) (err error) {

	if err = EnsureParentDir(path); err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("%w: os.Create(%s): %w", ErrArtifact, path, err)
	}

	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("%w: close(%s): %w", ErrArtifact, path, cerr)
		}
	}()

	switch object := object.(type) {
	case io.WriterTo:
		if _, err = object.WriteTo(f); err != nil {
			return fmt.Errorf("%w: %T.WriteTo: %w", ErrArtifact, object, err)
		}
	case encoding.BinaryMarshaler:
		var data []byte
		if data, err = object.MarshalBinary(); err != nil {
			return fmt.Errorf("%T.MarshalBinary: %w", object, err)
		}
		if _, err = f.Write(data); err != nil {
			return fmt.Errorf("%w: file.Write: %w", ErrArtifact, err)
		}
	default:
		return fmt.Errorf("%T does not implement io.WriterTo or encoding.BinaryMarshaler", object)
	}

	return
}

// Deserialize fills object from the content of path.
func Deserialize(object any, path string) (err error) {

	switch object := object.(type) {
	case io.ReaderFrom:
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("%w: os.Open(%s): %w", ErrArtifact, path, err)
		}
		defer f.Close()

		if _, err = object.ReadFrom(f); err != nil {
			return fmt.Errorf("%T.ReadFrom: %w", object, err)
		}
	case encoding.BinaryUnmarshaler:
		var data []byte
		if data, err = os.ReadFile(path); err != nil {
			return fmt.Errorf("%w: os.ReadFile(%s): %w", ErrArtifact, path, err)
		}

		if err = object.UnmarshalBinary(data); err != nil {
			return fmt.Errorf("%T.UnmarshalBinary: %w", object, err)
		}

	default:
		return fmt.Errorf("%T does not implement io.ReaderFrom or encoding.BinaryUnmarshaler", object)
	}

	return
}

// ReadJSON decodes the JSON file at path into object.
func ReadJSON(path string, object any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("%w: os.ReadFile(%s): %w", ErrArtifact, path, err)
	}
	if err = json.Unmarshal(data, object); err != nil {
		return fmt.Errorf("json.Unmarshal(%s): %w", path, err)
	}
	return nil
}

// WriteJSON writes object to path as JSON indented with two spaces.
func WriteJSON(path string, object any) error {
	data, err := json.MarshalIndent(object, "", "  ")
	if err != nil {
		return fmt.Errorf("json.MarshalIndent: %w", err)
	}
	if err = EnsureParentDir(path); err != nil {
		return err
	}
	if err = os.WriteFile(path, append(data, '\n'), 0644); err != nil {
		return fmt.Errorf("%w: os.WriteFile(%s): %w", ErrArtifact, path, err)
	}
	return nil
}
