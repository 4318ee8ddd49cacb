package cnpj

// Archive is one upstream zip entry of a monthly directory.
type Archive struct {
	Name           string
	URL            string
	Classification Classification
}

// Batch is a fixed-size slice of coerced rows read from one CSV.
type Batch struct {
	// Number is the 0-based chunk number within the file.
	Number int
	// Offset is the 0-based index of the first CSV line in the batch.
	Offset int64
	Rows   [][]string
	// Lines counts every CSV line read for this batch, dropped ones included.
	Lines   int
	Dropped int
}

// RejectionExceeded reports whether more than 1% of the batch lines were dropped.
func (b *Batch) RejectionExceeded() bool {
	if b.Lines == 0 {
		return false
	}
	return b.Dropped*100 > b.Lines
}
