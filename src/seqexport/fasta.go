// Package seqexport writes the basecalled sequence of a trace as FASTA.
package seqexport

import (
	"fmt"
	"io"

	"github.com/biogo/biogo/alphabet"
	"github.com/biogo/biogo/io/seqio/fasta"
	"github.com/biogo/biogo/seq/linear"

	"github.com/sangertools/ab1png/src/trace"
)

// LineWidth is the FASTA line length.
const LineWidth = 60

// Sequence returns the called bases of rec as a biogo sequence. IUPAC
// ambiguity codes emitted by basecallers are kept.
func Sequence(id string, rec *trace.Record) *linear.Seq {
	s := linear.NewSeq(id, alphabet.BytesToLetters([]byte(rec.Sequence())), alphabet.DNAredundant)
	if rec.Sample != "" && rec.Sample != id {
		s.Desc = rec.Sample
	}
	return s
}

// WriteFASTA writes one FASTA record for rec to w.
func WriteFASTA(w io.Writer, id string, rec *trace.Record) error {
	if len(rec.Basecalls) == 0 {
		return fmt.Errorf("%s: no basecalls", id)
	}
	if _, err := fasta.NewWriter(w, LineWidth).Write(Sequence(id, rec)); err != nil {
		return fmt.Errorf("write fasta %s: %w", id, err)
	}
	return nil
}
