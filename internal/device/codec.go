package device

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"unicode/utf8"
)

// SchemaVersion selects how a device.json document encodes its fields.
type SchemaVersion int

const (
	// SchemaV1 keeps fields at the root, strings and binary data as arrays
	// of byte values.
	SchemaV1 SchemaVersion = 1
	// SchemaV2 keeps fields under "data", strings as text and binary data
	// as hex.
	SchemaV2 SchemaVersion = 2
)

const versionKey = "deviceInfoVersion"

// FormatError reports a device document that cannot be decoded.
type FormatError struct {
	Field  string
	Reason string
	Err    error
}

func (e *FormatError) Error() string {
	msg := fmt.Sprintf("invalid device document: field %q: %s", e.Field, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *FormatError) Unwrap() error {
	return e.Err
}

// IsFormatError reports whether err is or wraps a *FormatError.
func IsFormatError(err error) bool {
	var fe *FormatError
	return errors.As(err, &fe)
}

// fieldDecoder converts one present JSON value in a given schema.
type fieldDecoder interface {
	str(v any) (string, error)
	bytes(v any) ([]byte, error)
}

type v1Decoder struct{}

func (v1Decoder) str(v any) (string, error) {
	if s, ok := v.(string); ok {
		return s, nil
	}
	b, err := byteArray(v)
	if err != nil {
		return "", err
	}
	if !utf8.Valid(b) {
		return "", errors.New("byte array is not valid UTF-8")
	}
	return string(b), nil
}

func (v1Decoder) bytes(v any) ([]byte, error) {
	return byteArray(v)
}

type v2Decoder struct{}

func (v2Decoder) str(v any) (string, error) {
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("expected string, got %s", jsonType(v))
	}
	return s, nil
}

func (v2Decoder) bytes(v any) ([]byte, error) {
	s, ok := v.(string)
	if !ok {
		return nil, fmt.Errorf("expected hex string, got %s", jsonType(v))
	}
	return hex.DecodeString(s)
}

func (v SchemaVersion) decoder() fieldDecoder {
	if v == SchemaV1 {
		return v1Decoder{}
	}
	return v2Decoder{}
}

// byteArray decodes an array of byte values. Negative values down to -128
// are accepted as signed bytes.
func byteArray(v any) ([]byte, error) {
	arr, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("expected byte array, got %s", jsonType(v))
	}
	out := make([]byte, len(arr))
	for i, item := range arr {
		n, ok := item.(json.Number)
		if !ok {
			return nil, fmt.Errorf("element %d: expected number, got %s", i, jsonType(item))
		}
		x, err := n.Int64()
		if err != nil || x < math.MinInt8 || x > math.MaxUint8 {
			return nil, fmt.Errorf("element %d: %s is not a byte", i, n)
		}
		out[i] = byte(x)
	}
	return out, nil
}

func jsonType(v any) string {
	switch v.(type) {
	case string:
		return "string"
	case json.Number:
		return "number"
	case bool:
		return "boolean"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	default:
		return "null"
	}
}

// objectReader decodes fields out of one JSON object, keeping the first
// error so a whole device can be read without checking every call.
type objectReader struct {
	dec    fieldDecoder
	obj    map[string]any
	prefix string
	err    error
}

func (r *objectReader) fail(key, reason string, err error) {
	if r.err == nil {
		r.err = &FormatError{Field: r.prefix + key, Reason: reason, Err: err}
	}
}

func (r *objectReader) lookup(key string) (any, bool) {
	if r.err != nil {
		return nil, false
	}
	v, ok := r.obj[key]
	if !ok || v == nil {
		return nil, false
	}
	return v, true
}

func (r *objectReader) str(key, fallback string) string {
	v, ok := r.lookup(key)
	if !ok {
		return fallback
	}
	s, err := r.dec.str(v)
	if err != nil {
		r.fail(key, "malformed string", err)
		return fallback
	}
	return s
}

func (r *objectReader) bytes(key string, fallback []byte) []byte {
	v, ok := r.lookup(key)
	if !ok {
		return cloneBytes(fallback)
	}
	b, err := r.dec.bytes(v)
	if err != nil {
		r.fail(key, "malformed binary value", err)
		return cloneBytes(fallback)
	}
	if len(b) == 0 {
		return nil
	}
	return b
}

func (r *objectReader) uint32(key string, fallback uint32) uint32 {
	v, ok := r.lookup(key)
	if !ok {
		return fallback
	}
	n, isNum := v.(json.Number)
	if !isNum {
		r.fail(key, "expected integer", fmt.Errorf("got %s", jsonType(v)))
		return fallback
	}
	x, err := n.Int64()
	if err != nil || x < 0 || x > math.MaxUint32 {
		r.fail(key, "expected unsigned 32-bit integer", fmt.Errorf("got %s", n))
		return fallback
	}
	return uint32(x)
}

// object returns a reader over a nested object, or nil when the key is
// absent.
func (r *objectReader) object(key string) *objectReader {
	v, ok := r.lookup(key)
	if !ok {
		return nil
	}
	obj, isObj := v.(map[string]any)
	if !isObj {
		r.fail(key, "expected object", fmt.Errorf("got %s", jsonType(v)))
		return nil
	}
	return &objectReader{dec: r.dec, obj: obj, prefix: r.prefix + key + "."}
}

func (r *objectReader) version(fallback OSVersion) OSVersion {
	sub := r.object("version")
	if sub == nil {
		return fallback
	}
	v := OSVersion{
		Incremental: sub.str("incremental", fallback.Incremental),
		Release:     sub.str("release", fallback.Release),
		Codename:    sub.str("codename", fallback.Codename),
		SDK:         sub.uint32("sdk", fallback.SDK),
	}
	if sub.err != nil && r.err == nil {
		r.err = sub.err
	}
	return v
}

// attestation yields nil when the pair is absent or either half is empty.
func (r *objectReader) attestation() *Attestation {
	sub := r.object("qimei")
	if sub == nil {
		return nil
	}
	a := &Attestation{Q16: sub.str("q16", ""), Q36: sub.str("q36", "")}
	if sub.err != nil {
		if r.err == nil {
			r.err = sub.err
		}
		return nil
	}
	if a.Q16 == "" || a.Q36 == "" {
		return nil
	}
	return a
}

func (r *objectReader) device(fb *Device) *Device {
	return &Device{
		Display:      r.str("display", fb.Display),
		Product:      r.str("product", fb.Product),
		Device:       r.str("device", fb.Device),
		Board:        r.str("board", fb.Board),
		Model:        r.str("model", fb.Model),
		FingerPrint:  r.str("fingerprint", fb.FingerPrint),
		BootID:       r.str("bootId", fb.BootID),
		ProcVersion:  r.str("procVersion", fb.ProcVersion),
		IMEI:         r.str("imei", fb.IMEI),
		Brand:        r.str("brand", fb.Brand),
		Bootloader:   r.str("bootloader", fb.Bootloader),
		BaseBand:     r.str("baseBand", fb.BaseBand),
		Version:      r.version(fb.Version),
		SimInfo:      r.str("simInfo", fb.SimInfo),
		OSType:       r.str("osType", fb.OSType),
		MacAddress:   r.str("macAddress", fb.MacAddress),
		IPAddress:    r.bytes("ipAddress", fb.IPAddress),
		WifiBSSID:    r.str("wifiBSSID", fb.WifiBSSID),
		WifiSSID:     r.str("wifiSSID", fb.WifiSSID),
		IMSIMd5:      r.bytes("imsiMd5", fb.IMSIMd5),
		AndroidID:    r.str("androidId", fb.AndroidID),
		APN:          r.str("apn", fb.APN),
		VendorName:   r.str("vendorName", fb.VendorName),
		VendorOSName: r.str("vendorOsName", fb.VendorOSName),
		Attestation:  r.attestation(),
	}
}

// FromJSON decodes a device.json document. Fields the document does not
// carry are taken from fallback.
func FromJSON(data []byte, fallback *Device) (*Device, error) {
	if fallback == nil {
		fallback = &Device{}
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, &FormatError{Field: "$", Reason: "not a JSON document", Err: err}
	}
	root, ok := doc.(map[string]any)
	if !ok {
		return nil, &FormatError{Field: "$", Reason: "root is not an object"}
	}

	version, err := schemaVersion(root)
	if err != nil {
		return nil, err
	}

	obj := root
	if version == SchemaV2 {
		data, ok := root["data"].(map[string]any)
		if !ok {
			return nil, &FormatError{Field: "data", Reason: "missing or not an object"}
		}
		obj = data
	}

	r := &objectReader{dec: version.decoder(), obj: obj}
	d := r.device(fallback)
	if r.err != nil {
		return nil, r.err
	}
	return d, nil
}

func schemaVersion(root map[string]any) (SchemaVersion, error) {
	raw, ok := root[versionKey]
	if !ok {
		return SchemaV1, nil
	}
	if n, isNum := raw.(json.Number); isNum {
		if x, err := n.Int64(); err == nil {
			switch SchemaVersion(x) {
			case SchemaV1, SchemaV2:
				return SchemaVersion(x), nil
			}
		}
	}
	b, _ := json.Marshal(raw)
	return 0, &FormatError{Field: versionKey, Reason: fmt.Sprintf("unknown version %s", b)}
}

type documentV2 struct {
	DeviceInfoVersion SchemaVersion `json:"deviceInfoVersion"`
	Data              dataV2        `json:"data"`
}

type dataV2 struct {
	Display      string         `json:"display"`
	Product      string         `json:"product"`
	Device       string         `json:"device"`
	Board        string         `json:"board"`
	Model        string         `json:"model"`
	FingerPrint  string         `json:"fingerprint"`
	BootID       string         `json:"bootId"`
	ProcVersion  string         `json:"procVersion"`
	IMEI         string         `json:"imei"`
	Brand        string         `json:"brand"`
	Bootloader   string         `json:"bootloader"`
	BaseBand     string         `json:"baseBand"`
	Version      versionV2      `json:"version"`
	SimInfo      string         `json:"simInfo"`
	OSType       string         `json:"osType"`
	MacAddress   string         `json:"macAddress"`
	IPAddress    string         `json:"ipAddress"`
	WifiBSSID    string         `json:"wifiBSSID"`
	WifiSSID     string         `json:"wifiSSID"`
	IMSIMd5      string         `json:"imsiMd5"`
	AndroidID    string         `json:"androidId"`
	APN          string         `json:"apn"`
	VendorName   string         `json:"vendorName"`
	VendorOSName string         `json:"vendorOsName"`
	Qimei        *attestationV2 `json:"qimei,omitempty"`
}

type versionV2 struct {
	Incremental string `json:"incremental"`
	Release     string `json:"release"`
	Codename    string `json:"codename"`
	SDK         uint32 `json:"sdk"`
}

type attestationV2 struct {
	Q16 string `json:"q16"`
	Q36 string `json:"q36"`
}

// ToJSON encodes d as a pretty-printed version 2 document.
func ToJSON(d *Device) ([]byte, error) {
	if d == nil {
		return nil, errors.New("device: nil device")
	}
	doc := documentV2{
		DeviceInfoVersion: SchemaV2,
		Data: dataV2{
			Display:     d.Display,
			Product:     d.Product,
			Device:      d.Device,
			Board:       d.Board,
			Model:       d.Model,
			FingerPrint: d.FingerPrint,
			BootID:      d.BootID,
			ProcVersion: d.ProcVersion,
			IMEI:        d.IMEI,
			Brand:       d.Brand,
			Bootloader:  d.Bootloader,
			BaseBand:    d.BaseBand,
			Version: versionV2{
				Incremental: d.Version.Incremental,
				Release:     d.Version.Release,
				Codename:    d.Version.Codename,
				SDK:         d.Version.SDK,
			},
			SimInfo:      d.SimInfo,
			OSType:       d.OSType,
			MacAddress:   d.MacAddress,
			IPAddress:    hex.EncodeToString(d.IPAddress),
			WifiBSSID:    d.WifiBSSID,
			WifiSSID:     d.WifiSSID,
			IMSIMd5:      hex.EncodeToString(d.IMSIMd5),
			AndroidID:    d.AndroidID,
			APN:          d.APN,
			VendorName:   d.VendorName,
			VendorOSName: d.VendorOSName,
		},
	}
	if d.Attestation != nil {
		doc.Data.Qimei = &attestationV2{Q16: d.Attestation.Q16, Q36: d.Attestation.Q36}
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return nil, fmt.Errorf("failed to encode device: %w", err)
	}
	return buf.Bytes(), nil
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	return append([]byte(nil), b...)
}
