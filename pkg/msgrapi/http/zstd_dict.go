package http

import (
	_ "embed"
	"sync"

	"github.com/klauspost/compress/zstd"
)

// zstdDictData is the static dictionary the server seeds its x-fb-dz
// dictionary-compressed GraphQL responses with. The real asset is a
// proprietary binary blob shipped inside the Android APK; it is not
// redistributable, so this embeds an empty placeholder. A deployment that
// needs dictionary decompression to actually succeed must replace this
// file with the real dictionary bytes extracted from a client install --
// see DESIGN.md.
//
//go:embed zstd-dict.dat
var zstdDictData []byte

var (
	zstdDecoderOnce sync.Once
	zstdDecoder     *zstd.Decoder
	zstdDecoderErr  error
)

func getZstdDecoder() (*zstd.Decoder, error) {
	zstdDecoderOnce.Do(func() {
		opts := []zstd.DOption{}
		if len(zstdDictData) > 0 {
			opts = append(opts, zstd.WithDecoderDicts(zstdDictData))
		}
		zstdDecoder, zstdDecoderErr = zstd.NewReader(nil, opts...)
	})
	return zstdDecoder, zstdDecoderErr
}

// decompressZstdDict decompresses a dictionary-seeded zstd payload.
func decompressZstdDict(data []byte) ([]byte, error) {
	dec, err := getZstdDecoder()
	if err != nil {
		return nil, err
	}
	return dec.DecodeAll(data, nil)
}
