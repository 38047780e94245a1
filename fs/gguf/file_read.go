// Package gguf - GGUF File Read Funktionen
//
// Dieses Modul enthaelt die Low-Level Lese-Funktionen fuer GGUF-Dateien:
// - readTensor: Liest Tensor-Metadaten
// - readKeyValue: Liest ein Key-Value Paar
// - read[T], readString, readArray
package gguf

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/ollama/weightpipe/fs/ggml"
)

// maxStringLen schuetzt vor kaputten Laengenfeldern
const maxStringLen = 1 << 30

func (f *File) readTensor() (TensorInfo, error) {
	name, err := readString(f)
	if err != nil {
		return TensorInfo{}, err
	}

	dims, err := read[uint32](f)
	if err != nil {
		return TensorInfo{}, err
	}

	shape := make([]uint64, dims)
	if err := binary.Read(f.reader, binary.LittleEndian, shape); err != nil {
		return TensorInfo{}, err
	}

	kind, err := read[uint32](f)
	if err != nil {
		return TensorInfo{}, err
	}

	offset, err := read[uint64](f)
	if err != nil {
		return TensorInfo{}, err
	}

	return TensorInfo{
		Name:   name,
		Offset: offset,
		Shape:  shape,
		Type:   ggml.TensorType(kind),
	}, nil
}

func (f *File) readKeyValue() (KeyValue, error) {
	key, err := readString(f)
	if err != nil {
		return KeyValue{}, err
	}

	t, err := read[uint32](f)
	if err != nil {
		return KeyValue{}, err
	}

	var value any
	switch t {
	case typeUint8:
		value, err = read[uint8](f)
	case typeInt8:
		value, err = read[int8](f)
	case typeUint16:
		value, err = read[uint16](f)
	case typeInt16:
		value, err = read[int16](f)
	case typeUint32:
		value, err = read[uint32](f)
	case typeInt32:
		value, err = read[int32](f)
	case typeUint64:
		value, err = read[uint64](f)
	case typeInt64:
		value, err = read[int64](f)
	case typeFloat32:
		value, err = read[float32](f)
	case typeFloat64:
		value, err = read[float64](f)
	case typeBool:
		value, err = read[bool](f)
	case typeString:
		value, err = readString(f)
	case typeArray:
		value, err = readArray(f)
	default:
		return KeyValue{}, fmt.Errorf("%w type %d for key %s", ErrUnsupported, t, key)
	}
	if err != nil {
		return KeyValue{}, fmt.Errorf("%s: %w", key, err)
	}

	return KeyValue{Key: key, Value: Value{value}}, nil
}

func read[T any](f *File) (t T, err error) {
	err = binary.Read(f.reader, binary.LittleEndian, &t)
	return t, err
}

func readString(f *File) (string, error) {
	n, err := read[uint64](f)
	if err != nil {
		return "", err
	}
	if n > maxStringLen {
		return "", fmt.Errorf("%w string length %d", ErrUnsupported, n)
	}

	bts := make([]byte, n)
	if _, err := io.ReadFull(f.reader, bts); err != nil {
		return "", err
	}
	return string(bts), nil
}

func readArray(f *File) (any, error) {
	t, err := read[uint32](f)
	if err != nil {
		return nil, err
	}

	n, err := read[uint64](f)
	if err != nil {
		return nil, err
	}

	switch t {
	case typeUint8:
		return readArrayData[uint8](f, n)
	case typeInt8:
		return readArrayData[int8](f, n)
	case typeUint16:
		return readArrayData[uint16](f, n)
	case typeInt16:
		return readArrayData[int16](f, n)
	case typeUint32:
		return readArrayData[uint32](f, n)
	case typeInt32:
		return readArrayData[int32](f, n)
	case typeUint64:
		return readArrayData[uint64](f, n)
	case typeInt64:
		return readArrayData[int64](f, n)
	case typeFloat32:
		return readArrayData[float32](f, n)
	case typeFloat64:
		return readArrayData[float64](f, n)
	case typeBool:
		return readArrayData[bool](f, n)
	case typeString:
		s := make([]string, n)
		for i := range n {
			if s[i], err = readString(f); err != nil {
				return nil, err
			}
		}
		return s, nil
	default:
		return nil, fmt.Errorf("%w array type %d", ErrUnsupported, t)
	}
}

func readArrayData[T any](f *File, n uint64) ([]T, error) {
	s := make([]T, n)
	if err := binary.Read(f.reader, binary.LittleEndian, s); err != nil {
		return nil, err
	}
	return s, nil
}
