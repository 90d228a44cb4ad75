package test

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/require"

	"github.com/timewave-computer/causality-sub016/machine"
	"github.com/timewave-computer/causality-sub016/zk"
)

func TestRandomProgramRuns(t *testing.T) {
	a := NewAssert(t)
	for seed := int64(0); seed < 50; seed++ {
		p, w := RandomProgram(seed, DefaultProgramConfig())
		require.NoError(t, machine.Validate(p))
		tr := a.RunSucceeded(p, w)
		require.Nil(t, tr.Fault)
	}
}

func TestRandomProgramDeterministic(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("same seed gives the same program and trace", prop.ForAll(
		func(seed int64) bool {
			p1, w1 := RandomProgram(seed, DefaultProgramConfig())
			p2, w2 := RandomProgram(seed, DefaultProgramConfig())
			if p1.ID() != p2.ID() || len(w1) != len(w2) {
				return false
			}
			_, t1, err1 := machine.Execute(p1, nil, w1)
			_, t2, err2 := machine.Execute(p2, nil, w2)
			return err1 == nil && err2 == nil && t1.Hash() == t2.Hash()
		},
		gen.Int64(),
	))

	properties.TestingRun(t)
}

func TestRandomProgramProves(t *testing.T) {
	a := NewAssert(t)
	b := zk.NewMockBackend(zk.NewVKCache(4))
	for seed := int64(100); seed < 110; seed++ {
		p, w := RandomProgram(seed, DefaultProgramConfig())
		c, err := zk.NewCircuit(p, 256)
		require.NoError(t, err)
		wit, _, err := c.Run(nil, w)
		require.NoError(t, err)
		proof := a.ProveSucceeded(b, c, wit)

		other, ostream := RandomProgram(seed+1000, DefaultProgramConfig())
		oc, err := zk.NewCircuit(other, 256)
		require.NoError(t, err)
		ow, _, err := oc.Run(nil, ostream)
		require.NoError(t, err)
		pub, err := zk.PublicInputs(oc, ow)
		require.NoError(t, err)
		a.ProveFailed(b, proof, pub.Encode())
	}
}
