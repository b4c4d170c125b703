package device

import (
	"crypto/md5"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math/rand/v2"
	"strconv"

	"github.com/google/uuid"
)

// Device is the emulated hardware fingerprint presented to the chat service.
// It is generated once per account and persisted so that the service keeps
// recognising the same device across logins.
type Device struct {
	Display      string
	Product      string
	Device       string
	Board        string
	Model        string
	FingerPrint  string
	BootID       string
	ProcVersion  string
	IMEI         string
	Brand        string
	Bootloader   string
	BaseBand     string
	Version      OSVersion
	SimInfo      string
	OSType       string
	MacAddress   string
	IPAddress    []byte
	WifiBSSID    string
	WifiSSID     string
	IMSIMd5      []byte
	AndroidID    string
	APN          string
	VendorName   string
	VendorOSName string

	// Attestation is nil until the service has issued one.
	Attestation *Attestation
}

// OSVersion describes the Android build the device claims to run.
type OSVersion struct {
	Incremental string
	Release     string
	Codename    string
	SDK         uint32
}

// Attestation is the opaque identifier pair issued by the service.
type Attestation struct {
	Q16 string
	Q36 string
}

// profile is a hardware profile a random device is built from.
type profile struct {
	Brand        string
	Product      string
	Device       string
	Board        string
	Model        string
	BuildID      string
	Release      string
	SDK          uint32
	Bootloader   string
	VendorName   string
	VendorOSName string
}

var profileDatabase = []profile{
	{
		Brand:        "Xiaomi",
		Product:      "cmi",
		Device:       "cmi",
		Board:        "kona",
		Model:        "Mi 10 Pro",
		BuildID:      "RKQ1.200826.002",
		Release:      "11",
		SDK:          30,
		Bootloader:   "unknown",
		VendorName:   "MIUI",
		VendorOSName: "mi",
	},
	{
		Brand:        "samsung",
		Product:      "beyond1ltexx",
		Device:       "beyond1",
		Board:        "exynos9820",
		Model:        "SM-G973F",
		BuildID:      "QP1A.190711.020",
		Release:      "10",
		SDK:          29,
		Bootloader:   "G973FXXU3BTCB",
		VendorName:   "samsung",
		VendorOSName: "oneui",
	},
	{
		Brand:        "google",
		Product:      "oriole",
		Device:       "oriole",
		Board:        "slider",
		Model:        "Pixel 6",
		BuildID:      "SQ1D.220205.004",
		Release:      "12",
		SDK:          31,
		Bootloader:   "slider-1.1-7917470",
		VendorName:   "google",
		VendorOSName: "android",
	},
	{
		Brand:        "OnePlus",
		Product:      "OnePlus9Pro",
		Device:       "lemonadep",
		Board:        "lahaina",
		Model:        "LE2123",
		BuildID:      "RKQ1.201105.002",
		Release:      "11",
		SDK:          30,
		Bootloader:   "unknown",
		VendorName:   "OnePlus",
		VendorOSName: "oxygen",
	},
	{
		Brand:        "HUAWEI",
		Product:      "ELS-NX9",
		Device:       "HWELS",
		Board:        "kirin990",
		Model:        "ELS-NX9",
		BuildID:      "HUAWEIELS-N29",
		Release:      "10",
		SDK:          29,
		Bootloader:   "unknown",
		VendorName:   "HUAWEI",
		VendorOSName: "emui",
	},
	{
		Brand:        "asus",
		Product:      "WW_I003D",
		Device:       "ASUS_I003_1",
		Board:        "kona",
		Model:        "ASUS_I003DD",
		BuildID:      "RKQ1.200710.002",
		Release:      "11",
		SDK:          30,
		Bootloader:   "unknown",
		VendorName:   "asus",
		VendorOSName: "WW",
	},
}

// RandomFromUin builds a plausible device whose every field is derived from
// the account id, so the same account always gets the same device.
func RandomFromUin(uin int64) *Device {
	var seed [32]byte
	binary.LittleEndian.PutUint64(seed[:8], uint64(uin))
	src := rand.NewChaCha8(seed)
	r := rand.New(src)

	p := profileDatabase[r.IntN(len(profileDatabase))]
	incremental := strconv.Itoa(1000000 + r.IntN(9000000))

	bootID, err := uuid.NewRandomFromReader(src)
	if err != nil {
		// ChaCha8 reads never fail.
		panic(fmt.Sprintf("device: boot id: %v", err))
	}

	return &Device{
		Display:     fmt.Sprintf("%s.%06d", p.BuildID, r.IntN(1000000)),
		Product:     p.Product,
		Device:      p.Device,
		Board:       p.Board,
		Model:       p.Model,
		FingerPrint: fmt.Sprintf("%s/%s/%s:%s/%s/%s:user/release-keys", p.Brand, p.Product, p.Device, p.Release, p.BuildID, incremental),
		BootID:      bootID.String(),
		ProcVersion: fmt.Sprintf("Linux version 4.19.%d-perf-g%s (android-build@google.com)", 100+r.IntN(100), randomHex(src, 4)),
		IMEI:        randomIMEI(r),
		Brand:       p.Brand,
		Bootloader:  p.Bootloader,
		BaseBand:    "",
		Version: OSVersion{
			Incremental: incremental,
			Release:     p.Release,
			Codename:    "REL",
			SDK:         p.SDK,
		},
		SimInfo:      "T-Mobile",
		OSType:       "android",
		MacAddress:   randomMAC(src),
		IPAddress:    []byte{10, 0, byte(r.IntN(256)), byte(2 + r.IntN(250))},
		WifiBSSID:    randomMAC(src),
		WifiSSID:     "<unknown ssid>",
		IMSIMd5:      randomIMSIMd5(src),
		AndroidID:    randomHex(src, 8),
		APN:          "wifi",
		VendorName:   p.VendorName,
		VendorOSName: p.VendorOSName,
	}
}

// randomHex returns n random bytes hex encoded.
func randomHex(src *rand.ChaCha8, n int) string {
	buf := make([]byte, n)
	src.Read(buf)
	return hex.EncodeToString(buf)
}

// randomMAC returns a locally administered unicast MAC address.
func randomMAC(src *rand.ChaCha8) string {
	buf := make([]byte, 6)
	src.Read(buf)
	buf[0] = (buf[0] | 0x02) &^ 0x01
	return fmt.Sprintf("%02X:%02X:%02X:%02X:%02X:%02X", buf[0], buf[1], buf[2], buf[3], buf[4], buf[5])
}

func randomIMSIMd5(src *rand.ChaCha8) []byte {
	buf := make([]byte, 16)
	src.Read(buf)
	sum := md5.Sum(buf)
	return sum[:]
}

// randomIMEI returns a 15 digit IMEI with a valid Luhn check digit.
func randomIMEI(r *rand.Rand) string {
	digits := make([]byte, 15)
	digits[0] = '8'
	digits[1] = '6'
	for i := 2; i < 14; i++ {
		digits[i] = byte('0' + r.IntN(10))
	}
	digits[14] = byte('0' + luhnCheckDigit(digits[:14]))
	return string(digits)
}

// luhnCheckDigit computes the digit that makes payload+digit Luhn valid.
func luhnCheckDigit(payload []byte) int {
	sum := 0
	double := true
	for i := len(payload) - 1; i >= 0; i-- {
		d := int(payload[i] - '0')
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
	}
	return (10 - sum%10) % 10
}
