package codesign

import (
	"bytes"
	"encoding/asn1"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"

	"github.com/blacktop/go-macho"
	"go.mozilla.org/pkcs7"

	"github.com/aluedeke/go-notarize/pkg/failure"
)

// Code signature constants from Apple's cs_blobs.h
const (
	CSMAGIC_CODEDIRECTORY      = 0xfade0c02
	CSMAGIC_EMBEDDED_SIGNATURE = 0xfade0cc0
	CSMAGIC_BLOBWRAPPER        = 0xfade0b01

	CSSLOT_CODEDIRECTORY             = 0
	CSSLOT_REQUIREMENTS              = 2
	CSSLOT_ENTITLEMENTS              = 5
	CSSLOT_ALTERNATE_CODEDIRECTORIES = 0x1000
	CSSLOT_SIGNATURESLOT             = 0x10000

	CS_ADHOC   = 0x00000002
	CS_RUNTIME = 0x00010000

	LC_CODE_SIGNATURE = 0x1d
)

// id-smime-aa-timeStampToken, the unsigned attribute codesign --timestamp adds.
var oidTimeStampToken = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 16, 2, 14}

// sha1Identity matches identities given as a certificate SHA-1 hash.
var sha1Identity = regexp.MustCompile(`^[0-9a-fA-F]{40}$`)

// SignatureInfo holds the parts of an embedded code signature that the
// release checks care about.
type SignatureInfo struct {
	BinaryPath string
	Arch       string
	BlobCount  uint32
	CodeDirs   []CodeDirectoryInfo
	CMS        CMSInfo
}

// CodeDirectoryInfo contains CodeDirectory details
type CodeDirectoryInfo struct {
	Slot       uint32
	Version    uint32
	Flags      uint32
	HashType   uint8
	Identifier string
	TeamID     string
}

// HardenedRuntime reports whether the runtime flag is set.
func (cd CodeDirectoryInfo) HardenedRuntime() bool {
	return cd.Flags&CS_RUNTIME != 0
}

// CMSInfo contains CMS signature details
type CMSInfo struct {
	Size         uint32
	SignerCN     string
	SignerTeamID string
	Timestamped  bool
}

// Identifier returns the first non-empty CodeDirectory identifier.
func (info *SignatureInfo) Identifier() string {
	for _, cd := range info.CodeDirs {
		if cd.Identifier != "" {
			return cd.Identifier
		}
	}
	return ""
}

// HardenedRuntime reports whether every CodeDirectory carries the runtime flag.
func (info *SignatureInfo) HardenedRuntime() bool {
	if len(info.CodeDirs) == 0 {
		return false
	}
	for _, cd := range info.CodeDirs {
		if !cd.HardenedRuntime() {
			return false
		}
	}
	return true
}

// Check verifies the signature looks like a Developer ID distribution
// signature made by identity: hardened runtime, a secure timestamp and,
// unless identity is a certificate hash, a matching signer.
func (info *SignatureInfo) Check(identity string) error {
	var problems []string

	if len(info.CodeDirs) == 0 {
		problems = append(problems, "no CodeDirectory")
	} else if !info.HardenedRuntime() {
		problems = append(problems, "hardened runtime flag not set")
	}
	if info.CMS.Size == 0 || info.CMS.SignerCN == "" {
		problems = append(problems, "no CMS signer (ad-hoc signature?)")
	} else {
		if !info.CMS.Timestamped {
			problems = append(problems, "no secure timestamp")
		}
		if identity != "" && !sha1Identity.MatchString(identity) && !strings.Contains(info.CMS.SignerCN, identity) {
			problems = append(problems, fmt.Sprintf("signed by %q, expected %q", info.CMS.SignerCN, identity))
		}
		if team := IdentityTeamID(identity); team != "" && info.CMS.SignerTeamID != team {
			problems = append(problems, fmt.Sprintf("signer team %q, expected %s", info.CMS.SignerTeamID, team))
		}
	}

	if len(problems) > 0 {
		name := info.BinaryPath
		if info.Arch != "" {
			name += " (" + info.Arch + ")"
		}
		return failure.Errorf(failure.Verification, "codesign", "%s: %s", name, strings.Join(problems, "; "))
	}
	return nil
}

// ParseSignatures reads a Mach-O binary (thin or universal) and parses the
// code signature of every architecture slice.
func ParseSignatures(binaryPath string) ([]*SignatureInfo, error) {
	data, err := os.ReadFile(binaryPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read binary: %w", err)
	}

	slices, err := machoSlices(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", binaryPath, err)
	}

	infos := make([]*SignatureInfo, 0, len(slices))
	for _, s := range slices {
		info, err := parseSliceSignature(s.data)
		if err != nil {
			return nil, fmt.Errorf("%s (%s): %w", binaryPath, s.arch, err)
		}
		info.BinaryPath = binaryPath
		info.Arch = s.arch
		infos = append(infos, info)
	}
	return infos, nil
}

type machoSlice struct {
	arch string
	data []byte
}

// machoSlices splits a universal binary into its thin slices, or returns
// the file itself when it is thin.
func machoSlices(data []byte) ([]machoSlice, error) {
	if fat, err := macho.NewFatFile(bytes.NewReader(data)); err == nil {
		defer fat.Close()
		slices := make([]machoSlice, 0, len(fat.Arches))
		for _, arch := range fat.Arches {
			end := uint64(arch.Offset) + uint64(arch.Size)
			if end > uint64(len(data)) {
				return nil, fmt.Errorf("architecture %s extends beyond file", arch.CPU)
			}
			slices = append(slices, machoSlice{arch: arch.CPU.String(), data: data[arch.Offset:end]})
		}
		return slices, nil
	}

	// go-macho chokes on some signature formats; blank the signature
	// before handing the header to it.
	m, err := macho.NewFile(bytes.NewReader(blankSignature(data)))
	if err != nil {
		return nil, fmt.Errorf("not a Mach-O file: %w", err)
	}
	defer m.Close()
	return []machoSlice{{arch: m.CPU.String(), data: data}}, nil
}

func blankSignature(data []byte) []byte {
	sigOffset, sigSize, found := findCodeSignatureOffset(data)
	if !found || sigOffset == 0 || sigOffset >= uint32(len(data)) {
		return data
	}
	out := make([]byte, len(data))
	copy(out, data)
	end := uint64(sigOffset) + uint64(sigSize)
	if end > uint64(len(out)) {
		end = uint64(len(out))
	}
	for i := uint64(sigOffset); i < end; i++ {
		out[i] = 0
	}
	return out
}

// findCodeSignatureOffset finds the LC_CODE_SIGNATURE offset and size
// without a full Mach-O parse.
func findCodeSignatureOffset(data []byte) (offset, size uint32, found bool) {
	if len(data) < 32 {
		return 0, 0, false
	}

	var headerSize uint32
	switch binary.LittleEndian.Uint32(data[:4]) {
	case 0xfeedfacf: // MH_MAGIC_64
		headerSize = 32
	case 0xfeedface: // MH_MAGIC
		headerSize = 28
	default:
		return 0, 0, false
	}

	ncmds := binary.LittleEndian.Uint32(data[16:20])
	sizeofcmds := binary.LittleEndian.Uint32(data[20:24])
	if uint64(len(data)) < uint64(headerSize)+uint64(sizeofcmds) {
		return 0, 0, false
	}

	cmdOffset := headerSize
	for i := uint32(0); i < ncmds; i++ {
		if cmdOffset+8 > headerSize+sizeofcmds {
			break
		}
		cmd := binary.LittleEndian.Uint32(data[cmdOffset:])
		cmdSize := binary.LittleEndian.Uint32(data[cmdOffset+4:])
		if cmd == LC_CODE_SIGNATURE && cmdSize >= 16 {
			return binary.LittleEndian.Uint32(data[cmdOffset+8:]), binary.LittleEndian.Uint32(data[cmdOffset+12:]), true
		}
		if cmdSize == 0 {
			break
		}
		cmdOffset += cmdSize
	}

	return 0, 0, false
}

func parseSliceSignature(slice []byte) (*SignatureInfo, error) {
	sigOffset, sigSize, found := findCodeSignatureOffset(slice)
	if !found {
		return nil, errors.New("no code signature found")
	}
	if uint64(sigOffset)+uint64(sigSize) > uint64(len(slice)) {
		return nil, errors.New("code signature extends beyond file")
	}
	return ParseSuperBlob(slice[sigOffset : sigOffset+sigSize])
}

// ParseSuperBlob parses an embedded signature SuperBlob.
func ParseSuperBlob(sigData []byte) (*SignatureInfo, error) {
	if len(sigData) < 12 {
		return nil, errors.New("signature data too short")
	}
	if magic := binary.BigEndian.Uint32(sigData[0:4]); magic != CSMAGIC_EMBEDDED_SIGNATURE {
		return nil, fmt.Errorf("invalid SuperBlob magic: 0x%x", magic)
	}

	info := &SignatureInfo{BlobCount: binary.BigEndian.Uint32(sigData[8:12])}

	indexSize := 12 + uint64(info.BlobCount)*8
	if uint64(len(sigData)) < indexSize {
		return nil, errors.New("signature data too short for blob index")
	}

	var cmsData []byte
	for i := uint32(0); i < info.BlobCount; i++ {
		entryOffset := 12 + i*8
		blobType := binary.BigEndian.Uint32(sigData[entryOffset:])
		blobOffset := binary.BigEndian.Uint32(sigData[entryOffset+4:])

		if uint64(blobOffset)+8 > uint64(len(sigData)) {
			continue
		}
		blobSize := binary.BigEndian.Uint32(sigData[blobOffset+4:])
		if uint64(blobOffset)+uint64(blobSize) > uint64(len(sigData)) {
			continue
		}
		blobData := sigData[blobOffset : blobOffset+blobSize]

		switch {
		case blobType == CSSLOT_CODEDIRECTORY,
			blobType >= CSSLOT_ALTERNATE_CODEDIRECTORIES && blobType < CSSLOT_ALTERNATE_CODEDIRECTORIES+5:
			if cd, err := parseCodeDirectory(blobData, blobType); err == nil {
				info.CodeDirs = append(info.CodeDirs, *cd)
			}
		case blobType == CSSLOT_SIGNATURESLOT:
			cmsData = blobData
		}
	}

	info.CMS = parseCMSSignature(cmsData)
	return info, nil
}

// parseCodeDirectory parses a CodeDirectory blob
func parseCodeDirectory(data []byte, slot uint32) (*CodeDirectoryInfo, error) {
	if len(data) < 44 {
		return nil, errors.New("CodeDirectory too short")
	}
	if magic := binary.BigEndian.Uint32(data[0:4]); magic != CSMAGIC_CODEDIRECTORY {
		return nil, fmt.Errorf("invalid CodeDirectory magic: 0x%x", magic)
	}

	cd := &CodeDirectoryInfo{
		Slot:     slot,
		Version:  binary.BigEndian.Uint32(data[8:12]),
		Flags:    binary.BigEndian.Uint32(data[12:16]),
		HashType: data[37],
	}
	cd.Identifier = cString(data, binary.BigEndian.Uint32(data[20:24]))

	if cd.Version >= 0x20200 && len(data) >= 52 {
		if teamOffset := binary.BigEndian.Uint32(data[48:52]); teamOffset > 0 {
			cd.TeamID = cString(data, teamOffset)
		}
	}

	return cd, nil
}

func cString(data []byte, offset uint32) string {
	if offset >= uint32(len(data)) {
		return ""
	}
	end := offset
	for end < uint32(len(data)) && data[end] != 0 {
		end++
	}
	return string(data[offset:end])
}

// parseCMSSignature parses the CMS blob wrapper in the signature slot
func parseCMSSignature(data []byte) CMSInfo {
	info := CMSInfo{Size: uint32(len(data))}
	if len(data) <= 8 {
		return info
	}

	p7, err := pkcs7.Parse(data[8:]) // skip blob magic and length
	if err != nil || len(p7.Signers) == 0 {
		return info
	}

	signer := p7.Signers[0]
	for _, cert := range p7.Certificates {
		if cert.SerialNumber.Cmp(signer.IssuerAndSerialNumber.SerialNumber) == 0 {
			info.SignerCN = cert.Subject.CommonName
			for _, ou := range cert.Subject.OrganizationalUnit {
				if len(ou) == 10 && isAlphanumeric(ou) {
					info.SignerTeamID = ou
					break
				}
			}
			break
		}
	}
	for _, attr := range signer.UnauthenticatedAttributes {
		if attr.Type.Equal(oidTimeStampToken) {
			info.Timestamped = true
			break
		}
	}

	return info
}

// isAlphanumeric checks if a string contains only upper-case letters and digits
func isAlphanumeric(s string) bool {
	for _, r := range s {
		if !((r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')) {
			return false
		}
	}
	return true
}

// PrintSignatureInfo prints signature information to a writer
func PrintSignatureInfo(info *SignatureInfo, w io.Writer) {
	fmt.Fprintf(w, "\n=== %s", info.BinaryPath)
	if info.Arch != "" {
		fmt.Fprintf(w, " [%s]", info.Arch)
	}
	fmt.Fprintln(w, " ===")

	if id := info.Identifier(); id != "" {
		fmt.Fprintf(w, "Identifier: %s\n", id)
	}
	for _, cd := range info.CodeDirs {
		fmt.Fprintf(w, "CodeDirectory v=%x flags=0x%x hashType=%d runtime=%v", cd.Version, cd.Flags, cd.HashType, cd.HardenedRuntime())
		if cd.TeamID != "" {
			fmt.Fprintf(w, " team=%s", cd.TeamID)
		}
		fmt.Fprintln(w)
	}
	if info.CMS.SignerCN != "" {
		fmt.Fprintf(w, "Authority:  %s\n", info.CMS.SignerCN)
		fmt.Fprintf(w, "Timestamp:  %v\n", info.CMS.Timestamped)
	} else {
		fmt.Fprintln(w, "Authority:  (none, ad-hoc)")
	}
}
