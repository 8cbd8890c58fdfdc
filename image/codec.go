// Copyright 2024, Jason S. McMullan <jason.mcmullan@gmail.com>

package image

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"io"

	"github.com/klauspost/compress/zstd"
)

const (
	IMAGE_MAGIC   = "R5VM"
	IMAGE_VERSION = uint32(1)
)

// Write serializes the image: magic, version, and a zstd compressed
// gob payload.
func (img *Image) Write(w io.Writer) (err error) {
	var payload bytes.Buffer
	err = gob.NewEncoder(&payload).Encode(img)
	if err != nil {
		return
	}

	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return
	}
	defer encoder.Close()

	header := make([]byte, 8)
	copy(header, IMAGE_MAGIC)
	binary.LittleEndian.PutUint32(header[4:], IMAGE_VERSION)

	_, err = w.Write(header)
	if err != nil {
		return
	}

	_, err = w.Write(encoder.EncodeAll(payload.Bytes(), nil))
	return
}

// Read deserializes and validates an image written by Write.
func Read(r io.Reader) (img *Image, err error) {
	header := make([]byte, 8)
	_, err = io.ReadFull(r, header)
	if err != nil {
		return
	}
	if string(header[:4]) != IMAGE_MAGIC {
		err = ErrMagic
		return
	}
	if binary.LittleEndian.Uint32(header[4:]) != IMAGE_VERSION {
		err = ErrVersion
		return
	}

	compressed, err := io.ReadAll(r)
	if err != nil {
		return
	}

	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return
	}
	defer decoder.Close()

	payload, err := decoder.DecodeAll(compressed, nil)
	if err != nil {
		return
	}

	img = &Image{}
	err = gob.NewDecoder(bytes.NewReader(payload)).Decode(img)
	if err != nil {
		img = nil
		return
	}

	err = img.Validate()
	if err != nil {
		img = nil
		return
	}

	return
}
