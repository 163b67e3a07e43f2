package checkpoint

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/google/go-tpm/legacy/tpm2"
)

// quoteMagic is the TPM_GENERATED value every genuine TPMS_ATTEST carries.
const quoteMagic = 0xff544347

// verifyTPMQuote validates an optional TPM 2.0 quote attached to a
// checkpoint. The quote's ExtraData must equal the checkpoint statement
// digest, binding the hardware quote to the exact chain state the device
// signed, and the TPM clock must move forward relative to prevQuoted, the
// last checkpoint in the submission that carried a quote, without a reset
// or restart in between. Quote signature verification against an AK
// certificate is handled by the attestation chain when the AK is the leaf
// key; here the quote body itself is checked.
func verifyTPMQuote(cp *Attestation, digest [32]byte, prevQuoted *Attestation) error {
	att, err := tpm2.DecodeAttestationData(cp.TPMQuote)
	if err != nil {
		return fmt.Errorf("decode TPMS_ATTEST: %w", err)
	}

	if att.Magic != quoteMagic {
		return fmt.Errorf("bad quote magic 0x%08x", att.Magic)
	}
	if att.Type != tpm2.TagAttestQuote {
		return fmt.Errorf("attestation type 0x%04x is not a quote", uint16(att.Type))
	}
	if !bytes.Equal([]byte(att.ExtraData), digest[:]) {
		return errors.New("quote extra data does not bind the checkpoint statement")
	}
	if att.ClockInfo.Safe == 0 {
		return errors.New("tpm clock not in safe state")
	}

	if prevQuoted == nil {
		return nil
	}

	prevAtt, err := tpm2.DecodeAttestationData(prevQuoted.TPMQuote)
	if err != nil {
		return fmt.Errorf("decode previous TPMS_ATTEST: %w", err)
	}
	if att.ClockInfo.Clock <= prevAtt.ClockInfo.Clock {
		return errors.New("tpm clock did not advance between checkpoints")
	}
	if att.ClockInfo.ResetCount != prevAtt.ClockInfo.ResetCount ||
		att.ClockInfo.RestartCount != prevAtt.ClockInfo.RestartCount {
		return errors.New("tpm reset between checkpoints")
	}

	return nil
}
