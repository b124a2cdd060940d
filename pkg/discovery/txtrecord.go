package discovery

import (
	"fmt"
	"strings"
)

// TXTRecordMap is a map of TXT record key-value pairs.
type TXTRecordMap map[string]string

// MaxInstanceLength is the DNS label limit for instance names.
const MaxInstanceLength = 63

// EncodeServerTXT creates the TXT record for info.
func EncodeServerTXT(info *ServerInfo) TXTRecordMap {
	txt := TXTRecordMap{
		TXTKeyPath:      info.Path,
		TXTKeyTransport: info.Transport,
		TXTKeyVersion:   ProtocolVersion,
	}
	if txt[TXTKeyPath] == "" {
		txt[TXTKeyPath] = DefaultPath
	}
	if txt[TXTKeyTransport] == "" {
		txt[TXTKeyTransport] = TransportWebSocket
	}
	if info.Codec != "" {
		txt[TXTKeyCodec] = info.Codec
	}
	return txt
}

// DecodeServerTXT fills the TXT derived fields of a Service.
func DecodeServerTXT(txt TXTRecordMap, svc *Service) error {
	version, ok := txt[TXTKeyVersion]
	if !ok {
		return fmt.Errorf("%w: %s", ErrMissingRequired, TXTKeyVersion)
	}
	svc.Version = version

	svc.Transport = txt[TXTKeyTransport]
	switch svc.Transport {
	case "":
		svc.Transport = TransportWebSocket
	case TransportWebSocket, TransportSecureWebSocket, TransportStream:
	default:
		return fmt.Errorf("%w: unknown transport %q", ErrInvalidTXTRecord, svc.Transport)
	}

	svc.Path = txt[TXTKeyPath]
	if svc.Path != "" && !strings.HasPrefix(svc.Path, "/") {
		return fmt.Errorf("%w: path %q", ErrInvalidTXTRecord, svc.Path)
	}
	svc.Codec = txt[TXTKeyCodec]
	return nil
}

// TXTRecordsToStrings converts a map to "key=value" strings for zeroconf.
func TXTRecordsToStrings(txt TXTRecordMap) []string {
	result := make([]string, 0, len(txt))
	for k, v := range txt {
		result = append(result, k+"="+v)
	}
	return result
}

// StringsToTXTRecords parses "key=value" strings. Entries without a
// separator are kept as keys with an empty value.
func StringsToTXTRecords(records []string) TXTRecordMap {
	txt := make(TXTRecordMap, len(records))
	for _, r := range records {
		k, v, _ := strings.Cut(r, "=")
		if k == "" {
			continue
		}
		txt[k] = v
	}
	return txt
}

// ValidateInstance checks that name fits a DNS-SD instance label.
func ValidateInstance(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty", ErrInvalidInstance)
	}
	if len(name) > MaxInstanceLength {
		return fmt.Errorf("%w: longer than %d bytes", ErrInvalidInstance, MaxInstanceLength)
	}
	return nil
}
