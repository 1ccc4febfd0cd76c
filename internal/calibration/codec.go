package calibration

import (
	"bytes"
	"encoding/json"
	"io"
	"sort"

	"github.com/pkg/errors"
)

const formatVersion = 1

// persisted is the blob written under Namespace.
type persisted struct {
	Version   int           `json:"version"`
	Positions []KeyPosition `json:"positions"`
}

// wirePosition uses pointers so missing fields can be told apart from zeros.
type wirePosition struct {
	Note   *int `json:"note"`
	X      *int `json:"x"`
	Y      *int `json:"y"`
	Width  *int `json:"width,omitempty"`
	Height *int `json:"height,omitempty"`
}

type wireEnvelope struct {
	Version   *int           `json:"version"`
	Positions []wirePosition `json:"positions"`
}

func encodePersisted(positions map[int]KeyPosition) ([]byte, error) {
	data, err := json.Marshal(persisted{
		Version:   formatVersion,
		Positions: sortedPositions(positions),
	})
	if err != nil {
		return nil, errors.Wrap(err, "encode calibration")
	}
	return data, nil
}

// decodePositions accepts either a bare JSON array of positions or the
// versioned envelope. It returns a complete set or an error, never a partial one.
func decodePositions(blob []byte) (map[int]KeyPosition, error) {
	trimmed := bytes.TrimSpace(blob)
	if len(trimmed) == 0 {
		return nil, errors.Wrap(ErrImportParse, "empty input")
	}

	var records []wirePosition
	switch trimmed[0] {
	case '[':
		if err := decodeStrict(trimmed, &records); err != nil {
			return nil, err
		}
	case '{':
		var env wireEnvelope
		if err := decodeStrict(trimmed, &env); err != nil {
			return nil, err
		}
		if env.Version == nil {
			return nil, errors.Wrap(ErrImportParse, "missing version")
		}
		if *env.Version != formatVersion {
			return nil, errors.Wrapf(ErrUnsupportedVersion, "version %d", *env.Version)
		}
		records = env.Positions
	default:
		return nil, errors.Wrap(ErrImportParse, "expected a JSON array or object")
	}

	out := make(map[int]KeyPosition, len(records))
	for i, r := range records {
		p, err := r.toPosition()
		if err != nil {
			return nil, errors.Wrapf(err, "record %d", i)
		}
		if _, dup := out[p.Note]; dup {
			return nil, errors.Wrapf(ErrImportParse, "record %d: duplicate note %d", i, p.Note)
		}
		out[p.Note] = p
	}
	return out, nil
}

func decodeStrict(data []byte, v interface{}) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errors.Wrap(ErrImportParse, err.Error())
	}
	// Only whitespace may follow the document
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return errors.Wrap(ErrImportParse, "unexpected trailing data")
	}
	return nil
}

func (r wirePosition) toPosition() (KeyPosition, error) {
	if r.Note == nil || r.X == nil || r.Y == nil {
		return KeyPosition{}, errors.Wrap(ErrImportParse, "note, x and y are required")
	}
	p := KeyPosition{
		Note:   *r.Note,
		X:      *r.X,
		Y:      *r.Y,
		Width:  DefaultWidth,
		Height: DefaultHeight,
	}
	if r.Width != nil {
		p.Width = *r.Width
	}
	if r.Height != nil {
		p.Height = *r.Height
	}
	if err := p.validate(); err != nil {
		return KeyPosition{}, errors.Wrap(ErrImportParse, err.Error())
	}
	return p, nil
}

func sortedPositions(positions map[int]KeyPosition) []KeyPosition {
	out := make([]KeyPosition, 0, len(positions))
	for _, p := range positions {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Note < out[j].Note })
	return out
}
