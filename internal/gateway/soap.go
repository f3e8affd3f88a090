package gateway

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	apperrors "ghithu-reconciliation-service/pkg/errors"
	"ghithu-reconciliation-service/pkg/logger"

	"github.com/pkg/errors"
)

const soapNamespace = "http://tempuri.org/"

// SOAPConfig configures the web-service transport.
type SOAPConfig struct {
	URL     string        `mapstructure:"url" validate:"required,url"`
	User    string        `mapstructure:"user" validate:"required"`
	Timeout time.Duration `mapstructure:"timeout" validate:"gte=0"`
}

// SOAPExecutor posts SQL text to the billing web service and decodes the
// DataSet diffgram it answers with.
type SOAPExecutor struct {
	config SOAPConfig
	client *http.Client
	logger logger.Logger
}

// NewSOAPExecutor creates an executor. A nil client gets one bounded by
// config.Timeout.
func NewSOAPExecutor(config SOAPConfig, client *http.Client, log logger.Logger) *SOAPExecutor {
	if config.Timeout == 0 {
		config.Timeout = 180 * time.Second
	}
	if client == nil {
		client = &http.Client{Timeout: config.Timeout}
	}
	return &SOAPExecutor{
		config: config,
		client: client,
		logger: logger.OrDefault(log).WithComponent("soap-gateway"),
	}
}

// FetchRows implements Executor.
func (e *SOAPExecutor) FetchRows(ctx context.Context, q Query) (*Table, error) {
	sqlText, err := Render(q.SQL, q.Args...)
	if err != nil {
		return nil, apperrors.InternalError(apperrors.CodeUnexpectedError, "render query", err)
	}

	body, err := buildEnvelope(q.Function, sqlText, e.config.User)
	if err != nil {
		return nil, apperrors.InternalError(apperrors.CodeUnexpectedError, "build envelope", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.config.URL, bytes.NewReader(body))
	if err != nil {
		return nil, apperrors.GatewayError(apperrors.CodeConnectionFailed, q.Function, err)
	}
	req.Header.Set("Content-Type", "text/xml; charset=utf-8")
	req.Header.Set("SOAPAction", fmt.Sprintf("%q", soapNamespace+q.Function))

	e.logger.WithField("function", q.Function).Debug("Executing gateway query")

	resp, err := e.client.Do(req)
	if err != nil {
		code := apperrors.CodeConnectionFailed
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() || errors.Is(err, context.DeadlineExceeded) {
			code = apperrors.CodeTimeout
		}
		return nil, apperrors.GatewayError(code, q.Function, err).WithContext("url", e.config.URL)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperrors.GatewayError(apperrors.CodeConnectionFailed, q.Function, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// SOAP faults come back as 500 with a fault body.
		if fault := faultString(payload); fault != "" {
			return nil, apperrors.GatewayError(apperrors.CodeQueryFailed, q.Function, errors.New(fault)).
				WithContext("status", resp.StatusCode)
		}
		return nil, apperrors.GatewayError(apperrors.CodeConnectionFailed, q.Function,
			fmt.Errorf("unexpected HTTP status %s", resp.Status)).WithContext("status", resp.StatusCode)
	}

	table, err := ParseDiffgram(bytes.NewReader(payload))
	if err != nil {
		return nil, apperrors.GatewayError(apperrors.CodeInvalidResponse, q.Function, err)
	}

	if table.Empty() {
		e.logger.WithField("function", q.Function).Warn("Gateway returned no rows")
	} else {
		e.logger.WithFields(logger.Fields{"function": q.Function, "rows": table.Len()}).Debug("Gateway query decoded")
	}
	return table, nil
}

type soapEnvelope struct {
	XMLName xml.Name `xml:"s:Envelope"`
	XMLNS   string   `xml:"xmlns:s,attr"`
	Body    soapBody `xml:"s:Body"`
}

type soapBody struct {
	Call soapCall
}

type soapCall struct {
	XMLName      xml.Name
	XMLNS        string   `xml:"xmlns,attr"`
	SQL          string   `xml:"m_sql"`
	FunctionName struct{} `xml:"m_function_name"`
	User         string   `xml:"m_user"`
}

func buildEnvelope(function, sqlText, user string) ([]byte, error) {
	env := soapEnvelope{
		XMLNS: "http://schemas.xmlsoap.org/soap/envelope/",
		Body: soapBody{Call: soapCall{
			XMLName: xml.Name{Local: function},
			XMLNS:   soapNamespace,
			SQL:     sqlText,
			User:    user,
		}},
	}
	out, err := xml.Marshal(env)
	if err != nil {
		return nil, errors.Wrap(err, "marshal SOAP envelope")
	}
	return append([]byte(xml.Header), out...), nil
}

// ParseDiffgram decodes the rows of a .NET DataSet diffgram. Only
// NewDataSet/Table1 records inside the diffgram are read; the inline
// schema is skipped. A response without a diffgram has no rows.
func ParseDiffgram(r io.Reader) (*Table, error) {
	dec := xml.NewDecoder(r)
	table := &Table{}

	depth := 0
	inDiffgram := false
	diffgramDepth := 0
	var row Row
	rowDepth := 0
	field := ""
	var text strings.Builder

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrap(err, "decode diffgram")
		}

		switch t := tok.(type) {
		case xml.StartElement:
			depth++
			switch {
			case !inDiffgram && t.Name.Local == "diffgram":
				inDiffgram = true
				diffgramDepth = depth
			case inDiffgram && row == nil && t.Name.Local == "Table1":
				row = Row{}
				rowDepth = depth
			case row != nil && depth == rowDepth+1:
				field = t.Name.Local
				text.Reset()
				table.AddColumn(field)
			}
		case xml.CharData:
			if field != "" {
				text.Write(t)
			}
		case xml.EndElement:
			switch {
			case field != "" && depth == rowDepth+1:
				row[field] = text.String()
				field = ""
			case row != nil && depth == rowDepth:
				table.Rows = append(table.Rows, row)
				row = nil
			case inDiffgram && depth == diffgramDepth:
				inDiffgram = false
			}
			depth--
		}
	}
	return table, nil
}

func faultString(payload []byte) string {
	dec := xml.NewDecoder(bytes.NewReader(payload))
	for {
		tok, err := dec.Token()
		if err != nil {
			return ""
		}
		if start, ok := tok.(xml.StartElement); ok && start.Name.Local == "faultstring" {
			var s string
			if err := dec.DecodeElement(&s, &start); err != nil {
				return ""
			}
			return strings.TrimSpace(s)
		}
	}
}
