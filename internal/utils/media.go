package utils

import (
	"fmt"
	"os"

	"github.com/h2non/filetype"
)

// MediaInfo describes a finished output file.
type MediaInfo struct {
	MIME      string
	Extension string
	Size      int64
	IsVideo   bool
	IsAudio   bool
}

// DetectMedia sniffs the content type of the file at path from its header bytes.
// Unrecognized content yields an empty MIME.
func DetectMedia(path string) (MediaInfo, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return MediaInfo{}, err
	}
	if fi.IsDir() {
		return MediaInfo{}, fmt.Errorf("%s is a directory", path)
	}

	f, err := os.Open(path)
	if err != nil {
		return MediaInfo{}, err
	}
	defer f.Close()

	head := make([]byte, 262)
	n, _ := f.Read(head)
	head = head[:n]

	info := MediaInfo{Size: fi.Size()}
	kind, err := filetype.Match(head)
	if err != nil || kind == filetype.Unknown {
		return info, nil
	}
	info.MIME = kind.MIME.Value
	info.Extension = kind.Extension
	info.IsVideo = filetype.IsVideo(head)
	info.IsAudio = filetype.IsAudio(head)
	return info, nil
}
