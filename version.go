package archivemeta

// Container signatures.
var (
	sigZipLocal = []byte("PK\x03\x04")
	sigZipEmpty = []byte("PK\x05\x06")
	sigRar4     = []byte("Rar!\x1A\x07\x00")     // RAR 1.5 - 4.x
	sigRar5     = []byte("Rar!\x1A\x07\x01\x00") // RAR 5.0
	sig7Zip     = []byte{'7', 'z', 0xBC, 0xAF, 0x27, 0x1C}
	sigGzip     = []byte{0x1F, 0x8B}
)
