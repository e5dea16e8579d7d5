package websocket

import (
	"embed"
	"fmt"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/segmentio/encoding/json"
	"golang.org/x/net/websocket"

	"github.com/geovista/pointstream/models"
)

// Viewer message types. Viewers send ping, join, camera and leave. The
// service sends the rest.
const (
	MsgTypePing   = "ping"
	MsgTypePong   = "pong"
	MsgTypeJoin   = "join"
	MsgTypeJoined = "joined"
	MsgTypeCamera = "camera"
	MsgTypeLeave  = "leave"
	MsgTypeLeft   = "left"
	MsgTypePoints = "points"
	MsgTypeEvict  = "evict"
	MsgTypeError  = "error"
)

// Error codes sent in error frames.
const (
	ErrCodeAlreadyJoined = "dataset_already_joined"
)

type PingMsg struct {
	Type string `json:"type"`
}

type PongMsg struct {
	Type string `json:"type"`
}

// JoinMsg selects the dataset to stream. Joining a dataset while another one
// is joined leaves the current one first.
type JoinMsg struct {
	Type    string `json:"type"`
	Dataset string `json:"dataset"`
}

type JoinedMsg struct {
	Type        string `json:"type"`
	SessionID   string `json:"session_id"`
	SessionUUID string `json:"session_uuid"`
	ViewerID    uint32 `json:"viewer_id"`
	TileCount   int    `json:"tile_count"`
}

// CameraMsg is the viewer's camera pose. Heading and fov are in radians.
type CameraMsg struct {
	Type     string  `json:"type"`
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	Altitude float64 `json:"altitude"`
	Heading  float64 `json:"heading"`
	FOV      float64 `json:"fov"`
	Far      float64 `json:"far"`
}

type LeaveMsg struct {
	Type string `json:"type"`
}

type LeftMsg struct {
	Type    string `json:"type"`
	Dataset string `json:"dataset"`
}

// PointsMsg carries the point buffer of one resolved (tile, level) pair,
// flattened as xyz triples.
type PointsMsg struct {
	Type   string    `json:"type"`
	Tile   uint32    `json:"tile"`
	LOD    int       `json:"lod"`
	Count  int       `json:"count"`
	Points []float64 `json:"points"`
}

type EvictMsg struct {
	Type string `json:"type"`
	Tile uint32 `json:"tile"`
	LOD  int    `json:"lod"`
}

type ErrorMsg struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Msg is a raw viewer protocol frame with its decoded type.
type Msg struct {
	Type string

	data []byte
}

// DataTo unmarshals the frame into the given message struct.
func (m Msg) DataTo(v any) error {
	return json.Unmarshal(m.data, v)
}

// MsgFromAny marshals an outbound message struct into a frame.
func MsgFromAny(v any) (Msg, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return Msg{}, errors.New("encoding message failed").Wrap(err)
	}

	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(b, &env); err != nil {
		return Msg{}, errors.New("decoding message envelope failed").Wrap(err)
	}

	return Msg{Type: env.Type, data: b}, nil
}

//go:embed schemas/*.schema.json
var schemaFS embed.FS

var inboundSchemas = compileSchemas(map[string]string{
	MsgTypePing:   "ping.schema.json",
	MsgTypeJoin:   "join.schema.json",
	MsgTypeCamera: "camera.schema.json",
	MsgTypeLeave:  "leave.schema.json",
})

func compileSchemas(files map[string]string) map[string]*jsonschema.Schema {
	compiler := jsonschema.NewCompiler()

	schemas := make(map[string]*jsonschema.Schema, len(files))
	for msgType, name := range files {
		f, err := schemaFS.Open("schemas/" + name)
		if err != nil {
			panic(fmt.Sprintf("opening schema %s: %v", name, err))
		}
		if err := compiler.AddResource(name, f); err != nil {
			panic(fmt.Sprintf("adding schema %s: %v", name, err))
		}
		schemas[msgType] = compiler.MustCompile(name)
	}
	return schemas
}

// Receive reads and validates the next frame. Malformed frames and unknown
// message types return an error of type bad_message, the connection stays
// usable.
func Receive(conn *websocket.Conn) (Msg, int, error) {
	var b []byte
	if err := websocket.Message.Receive(conn, &b); err != nil {
		return Msg{}, 0, err
	}

	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return Msg{}, len(b), errors.New("decoding message failed").
			WithType(models.ErrTypeBadMessage).
			Wrap(err)
	}

	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(b, &env); err != nil {
		return Msg{}, len(b), errors.New("decoding message envelope failed").
			WithType(models.ErrTypeBadMessage).
			Wrap(err)
	}

	schema, ok := inboundSchemas[env.Type]
	if !ok {
		return Msg{}, len(b), errors.New("unexpected message type").
			WithType(models.ErrTypeBadMessage).
			WithTag("msg_type", env.Type)
	}

	if err := schema.Validate(v); err != nil {
		return Msg{}, len(b), errors.New("message failed schema validation").
			WithType(models.ErrTypeBadMessage).
			WithTag("msg_type", env.Type).
			Wrap(err)
	}

	return Msg{Type: env.Type, data: b}, len(b), nil
}

// Send writes a frame to the connection as a text message.
func Send(conn *websocket.Conn, msg Msg) (int, error) {
	if err := websocket.Message.Send(conn, string(msg.data)); err != nil {
		return 0, err
	}
	return len(msg.data), nil
}
