package client

import (
	"bytes"
	"context"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/segmentio/encoding/json"

	"github.com/geovista/pointstream/models"
)

// AnalysisOp names a server-side analysis operation. Requests and responses
// are opaque JSON, the server owns their shapes.
type AnalysisOp string

const (
	OpBuffer    AnalysisOp = "buffer"
	OpDistance  AnalysisOp = "distance"
	OpFlood     AnalysisOp = "flood"
	OpViewshed  AnalysisOp = "viewshed"
	OpShadow    AnalysisOp = "shadow"
	OpDTM       AnalysisOp = "dtm"
	OpDSM       AnalysisOp = "dsm"
	OpBuildings AnalysisOp = "buildings"
	OpVolume    AnalysisOp = "volume"
	OpMesh      AnalysisOp = "mesh"
	OpDronePath AnalysisOp = "drone-path"
)

// Analyze runs an analysis operation on a dataset and returns the server
// response verbatim.
func (c *Client) Analyze(ctx context.Context, datasetID string, op AnalysisOp, request json.RawMessage) (json.RawMessage, error) {
	q := url.Values{}
	q.Set("dataset", datasetID)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url(string(op), q), bytes.NewReader(request))
	if err != nil {
		return nil, errors.New("creating analysis request failed").Wrap(err)
	}
	req.Header.Set("Content-Type", "application/json")

	b, err := c.do(req)
	if err != nil {
		return nil, errors.New("analysis request failed").
			WithTag("dataset", datasetID).
			WithTag("op", op).
			Wrap(err)
	}
	return b, nil
}

// Upload pushes a LAS/LAZ file to the server and returns the id of the
// created dataset.
func (c *Client) Upload(ctx context.Context, filename string, r io.Reader) (string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return "", errors.New("creating multipart file failed").Wrap(err)
	}
	if _, err := io.Copy(fw, r); err != nil {
		return "", errors.New("copying upload body failed").Wrap(err)
	}
	if err := mw.Close(); err != nil {
		return "", errors.New("closing multipart body failed").Wrap(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url("upload", nil), &body)
	if err != nil {
		return "", errors.New("creating upload request failed").Wrap(err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	b, err := c.do(req)
	if err != nil {
		return "", errors.New("upload failed").
			WithTag("filename", filename).
			Wrap(err)
	}

	var res struct {
		DatasetID string `json:"dataset_id"`
	}
	if err := c.decoder(b, &res); err != nil {
		return "", errors.New("decoding upload response failed").Wrap(err)
	}
	if res.DatasetID == "" {
		return "", errors.New("upload response has no dataset id")
	}
	return res.DatasetID, nil
}

// Sample returns a random point sample of a dataset, the cheap preview path.
func (c *Client) Sample(ctx context.Context, datasetID string, size int) (models.PointBuffer, error) {
	q := url.Values{}
	q.Set("dataset", datasetID)
	q.Set("size", strconv.Itoa(size))

	var points wirePoints
	if err := c.get(ctx, "sample", q, &points); err != nil {
		return nil, errors.New("fetching sample failed").
			WithTag("dataset", datasetID).
			Wrap(err)
	}
	return flattenPoints(points.Points), nil
}

// PointBudget returns a capped view of the whole dataset, used to bound GPU
// load on first display.
func (c *Client) PointBudget(ctx context.Context, datasetID string, budget int) (models.PointBuffer, error) {
	q := url.Values{}
	q.Set("dataset", datasetID)
	q.Set("budget", strconv.Itoa(budget))

	var points wirePoints
	if err := c.get(ctx, "point-budget", q, &points); err != nil {
		return nil, errors.New("fetching point budget failed").
			WithTag("dataset", datasetID).
			Wrap(err)
	}
	return flattenPoints(points.Points), nil
}
