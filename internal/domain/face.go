package domain

import (
	"encoding/json"
	"fmt"
)

// Face is the side of the building a sensor is mounted on.
// The zero value is not a valid face.
type Face uint8

const (
	North Face = iota + 1
	West
	East
	South
)

// Faces lists every face in canonical order.
var Faces = [...]Face{North, West, East, South}

var faceCodes = map[Face]int{North: 10, West: 20, East: 30, South: 40}

var faceNames = map[Face]string{North: "North", West: "West", East: "East", South: "South"}

// ParseFace decodes the integer face code used on the wire and in storage.
func ParseFace(code int) (Face, error) {
	for f, c := range faceCodes {
		if c == code {
			return f, nil
		}
	}
	return 0, fmt.Errorf("%w: sensor face %d", ErrInvalidInput, code)
}

// Code returns the canonical integer encoding of the face.
func (f Face) Code() int { return faceCodes[f] }

// Valid reports whether f is one of the four faces.
func (f Face) Valid() bool {
	_, ok := faceCodes[f]
	return ok
}

func (f Face) String() string {
	if name, ok := faceNames[f]; ok {
		return name
	}
	return fmt.Sprintf("Face(%d)", uint8(f))
}

// MarshalJSON encodes the face as its integer code.
func (f Face) MarshalJSON() ([]byte, error) {
	if !f.Valid() {
		return nil, fmt.Errorf("%w: %s", ErrInvalidInput, f)
	}
	return json.Marshal(f.Code())
}

// UnmarshalJSON decodes an integer face code.
func (f *Face) UnmarshalJSON(data []byte) error {
	var code int
	if err := json.Unmarshal(data, &code); err != nil {
		return fmt.Errorf("%w: sensor face: %v", ErrInvalidInput, err)
	}
	parsed, err := ParseFace(code)
	if err != nil {
		return err
	}
	*f = parsed
	return nil
}
