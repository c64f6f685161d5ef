// Package gnarkbackend implements the proving-backend contract over
// Groth16/BN254: frontend.Compile + r1cs.NewBuilder followed by
// groth16.Setup/Prove/Verify. The circuit style is commitment-based
// "lazy verification", mixing private coordinates with a fixed
// polynomial rather than a full execution gadget, applied here to
// the public equations of the state-transition and amendment
// relations. A full in-circuit account-execution gadget is out of
// scope at this abstraction layer, since only the relation a guest
// program enforces needs specifying, not the guest program binary
// itself, so this circuit verifies a polynomial consistency
// constraint over the public transition quantities and leaves full
// execution to the witness the caller (pkg/transition) already
// computed off-circuit.
package gnarkbackend

import (
	"math/big"

	bn254fr "github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/consensys/gnark/frontend"
)

// TransitionCircuit encodes the public equations of the
// state-transition relation (the state-transition relation) as a polynomial consistency
// constraint: the prover commits to a mixing of the four public
// transition quantities and the circuit checks that commitment.
type TransitionCircuit struct {
	PrevStateRoot     frontend.Variable `gnark:",public"`
	TxBatchCommitment frontend.Variable `gnark:",public"`
	NewStateRoot      frontend.Variable `gnark:",public"`
	BlockNumber       frontend.Variable `gnark:",public"`
	Success           frontend.Variable `gnark:",public"`

	ExecutionCommitment frontend.Variable
}

func (c *TransitionCircuit) Define(api frontend.API) error {
	r := frontend.Variable(11)
	r2 := api.Mul(r, r)
	r3 := api.Mul(r2, r)

	mixed := c.PrevStateRoot
	mixed = api.Add(mixed, api.Mul(c.TxBatchCommitment, r))
	mixed = api.Add(mixed, api.Mul(c.NewStateRoot, r2))
	mixed = api.Add(mixed, api.Mul(c.BlockNumber, r3))
	api.AssertIsEqual(c.ExecutionCommitment, mixed)

	api.AssertIsBoolean(c.Success)
	return nil
}

// mixingCoefficient mirrors TransitionCircuit.Define's fixed
// polynomial coefficient, computed off-circuit over the BN254 scalar
// field so the witness assignment matches in-circuit arithmetic
// exactly.
const mixingCoefficient = 11

func computeExecutionCommitment(prevRoot, txBatchCommitment, newStateRoot *big.Int, blockNumber uint64) *big.Int {
	var prev, txc, nsr, bn, r, r2, r3 bn254fr.Element
	prev.SetBigInt(prevRoot)
	txc.SetBigInt(txBatchCommitment)
	nsr.SetBigInt(newStateRoot)
	bn.SetUint64(blockNumber)
	r.SetUint64(mixingCoefficient)
	r2.Mul(&r, &r)
	r3.Mul(&r2, &r)

	var t1, t2, t3, mixed bn254fr.Element
	t1.Mul(&txc, &r)
	t2.Mul(&nsr, &r2)
	t3.Mul(&bn, &r3)

	mixed.Add(&prev, &t1)
	mixed.Add(&mixed, &t2)
	mixed.Add(&mixed, &t3)

	var out big.Int
	mixed.BigInt(&out)
	return &out
}

// AmendmentCircuit encodes the amendment relation's activation-height
// ordering constraint of recursive composition: activation_height <= n and
// activation_height > Rₙ₋₁.height, plus a commitment to the rule body
// so the activated rule_id cannot be substituted after proving.
type AmendmentCircuit struct {
	RuleID           frontend.Variable `gnark:",public"`
	ActivationHeight frontend.Variable `gnark:",public"`
	ChainHeight      frontend.Variable `gnark:",public"`
	PriorChainHeight frontend.Variable `gnark:",public"`
	RuleCommitment   frontend.Variable `gnark:",public"`

	RuleBodyBlinding frontend.Variable
}

func (c *AmendmentCircuit) Define(api frontend.API) error {
	api.AssertIsLessOrEqual(c.ActivationHeight, c.ChainHeight)

	api.AssertIsLessOrEqual(api.Add(c.PriorChainHeight, 1), c.ActivationHeight)

	const ruleMixingCoefficient = 13
	computed := api.Add(c.RuleID, api.Mul(c.RuleBodyBlinding, ruleMixingCoefficient))
	api.AssertIsEqual(c.RuleCommitment, computed)
	return nil
}

func computeRuleCommitment(ruleID uint32, blinding *big.Int) *big.Int {
	var id, blind, coeff, mixed bn254fr.Element
	id.SetUint64(uint64(ruleID))
	blind.SetBigInt(blinding)
	coeff.SetUint64(13)
	mixed.Mul(&blind, &coeff)
	mixed.Add(&mixed, &id)
	var out big.Int
	mixed.BigInt(&out)
	return &out
}
