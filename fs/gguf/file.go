// Package gguf - GGUF File Struktur und Open/Close
//
// Dieses Modul enthaelt die File-Hauptstruktur fuer GGUF-Dateien:
// - File: Repraesentiert eine geoeffnete GGUF-Datei (Header eager geparst)
// - Open: Oeffnet und parst Header, KV-Paare und Tensor-Infos
// - Close: Schliesst die Datei
package gguf

import (
	"bufio"
	"bytes"
	"cmp"
	"errors"
	"fmt"
	"io"
	"os"
)

// Type-Konstanten fuer GGUF-Datentypen
const (
	typeUint8 uint32 = iota
	typeInt8
	typeUint16
	typeInt16
	typeUint32
	typeInt32
	typeFloat32
	typeBool
	typeString
	typeArray
	typeUint64
	typeInt64
	typeFloat64
)

// ErrUnsupported wird bei nicht unterstuetzten Formaten oder Versionen zurueckgegeben
var ErrUnsupported = errors.New("unsupported")

// File repraesentiert eine geoeffnete GGUF-Datei
type File struct {
	Magic   [4]byte
	Version uint32

	keyValues []KeyValue
	tensors   []TensorInfo
	offset    int64

	file   *os.File
	reader *countingReader
}

// countingReader merkt sich die gelesene Byte-Position
type countingReader struct {
	r      *bufio.Reader
	offset int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.offset += int64(n)
	return n, err
}

// Open oeffnet eine GGUF-Datei und parst den kompletten Header
func Open(path string) (*File, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	f, err := decode(file)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return f, nil
}

func decode(file *os.File) (*File, error) {
	f := &File{
		file:   file,
		reader: &countingReader{r: bufio.NewReaderSize(file, 32<<10)},
	}

	if _, err := io.ReadFull(f.reader, f.Magic[:]); err != nil {
		return nil, err
	}
	if !bytes.Equal(f.Magic[:], []byte("GGUF")) {
		return nil, fmt.Errorf("%w file type %q", ErrUnsupported, f.Magic[:])
	}

	var err error
	if f.Version, err = read[uint32](f); err != nil {
		return nil, err
	}
	if f.Version < 2 {
		return nil, fmt.Errorf("%w version %v", ErrUnsupported, f.Version)
	}

	numTensors, err := read[uint64](f)
	if err != nil {
		return nil, err
	}
	numKV, err := read[uint64](f)
	if err != nil {
		return nil, err
	}

	f.keyValues = make([]KeyValue, 0, numKV)
	for range numKV {
		kv, err := f.readKeyValue()
		if err != nil {
			return nil, err
		}
		f.keyValues = append(f.keyValues, kv)
	}

	f.tensors = make([]TensorInfo, 0, numTensors)
	for range numTensors {
		t, err := f.readTensor()
		if err != nil {
			return nil, err
		}
		f.tensors = append(f.tensors, t)
	}

	offset := f.reader.offset
	alignment := cmp.Or(f.KeyValue("general.alignment").Int(), 32)
	f.offset = offset + (alignment-offset%alignment)%alignment
	return f, nil
}

// Close schliesst die Datei
func (f *File) Close() error {
	return f.file.Close()
}
