package propagation

import (
	"math"

	"github.com/star/sgp4d/internal/batch"
	"github.com/star/sgp4d/internal/geophys"
)

const (
	twoPi         = 2 * math.Pi
	twoThirds     = 2.0 / 3.0
	keplerIters   = 4
	maxLanes      = 4
	secondsPerMin = 60.0
)

// SolveKepler solves E - e*sin(E) = M with exactly four Newton-Raphson
// iterations starting from E = M. It never exits early, so every lane of a
// group does the same work.
func SolveKepler(m, e float64) float64 {
	eo1 := m
	for k := 0; k < keplerIters; k++ {
		eo1 -= (eo1 - e*math.Sin(eo1) - m) / (1 - e*math.Cos(eo1))
	}
	return eo1
}

// recoverMeanMotion returns the J2-corrected mean motion and semi-major axis (earth radii).
func recoverMeanMotion(no, cosio, ecco, j2, ke float64) (xnodp, aodp float64) {
	x3thm1 := 3*cosio*cosio - 1
	betao2 := 1 - ecco*ecco
	betao := math.Sqrt(betao2)
	a1 := math.Pow(ke/no, twoThirds)
	del1 := 1.5 * j2 * x3thm1 / (betao2 * betao * a1 * a1)
	ao := a1 * (1 - del1*(1.0/3.0+del1*(1+del1)))
	delo := 1.5 * j2 * x3thm1 / (betao2 * betao * ao * ao)
	xnodp = no / (1 + delo)
	aodp = ao / (1 - delo)
	return xnodp, aodp
}

// normalizeAngle maps x into [0, 2π).
func normalizeAngle(x float64) float64 {
	u := math.Mod(x, twoPi)
	if u < 0 {
		u += twoPi
	}
	return u
}

// propagateScalar advances satellite i to tsince minutes past its epoch and
// writes the state at index i of out.
func propagateScalar(b *batch.Batch, i int, tsince float64, c geophys.Constants, out batch.Slice) {
	inclo, nodeo, ecco := b.Incl[i], b.RAAN[i], b.Ecc[i]
	argpo, mo, no := b.ArgP[i], b.M[i], b.N[i]

	cosio := math.Cos(inclo)
	sinio := math.Sin(inclo)
	xnodp, aodp := recoverMeanMotion(no, cosio, ecco, c.J2, c.KE)

	// Secular drag. Node and perigee are held at their epoch values.
	c1 := b.BStar[i] * aodp * aodp
	xmdf := mo + xnodp*tsince + c1*tsince*tsince
	u := normalizeAngle(xmdf)

	eo1 := SolveKepler(u, ecco)
	sinE := math.Sin(eo1)
	cosE := math.Cos(eo1)
	ecose := ecco * cosE
	esine := ecco * sinE

	el2 := 1 - ecco*ecco
	pl := aodp * el2
	r := aodp * (1 - ecose)
	rdot := c.KE * math.Sqrt(aodp) * esine / r
	rvdot := c.KE * math.Sqrt(pl) / r

	sinv := math.Sqrt(el2) * sinE / (1 - ecose)
	cosv := (cosE - ecco) / (1 - ecose)
	v := math.Atan2(sinv, cosv)

	su := argpo + v
	sinSU, cosSU := math.Sin(su), math.Cos(su)
	sinNode, cosNode := math.Sin(nodeo), math.Cos(nodeo)

	ux := cosSU*cosNode - sinSU*cosio*sinNode
	uy := cosSU*sinNode + sinSU*cosio*cosNode
	uz := sinSU * sinio
	vx := -(sinSU*cosNode + cosSU*cosio*sinNode)
	vy := cosSU*cosio*cosNode - sinSU*sinNode
	vz := cosSU * sinio

	rkm := r * c.RE
	rdotkms := rdot * c.RE / secondsPerMin
	rvdotkms := rvdot * c.RE / secondsPerMin

	out.X[i] = rkm * ux
	out.Y[i] = rkm * uy
	out.Z[i] = rkm * uz
	out.VX[i] = rdotkms*ux + rvdotkms*vx
	out.VY[i] = rdotkms*uy + rvdotkms*vy
	out.VZ[i] = rdotkms*uz + rvdotkms*vz
}

// propagateLanes advances satellites [base, base+w) together. Each stage is
// evaluated across all lanes before the next one starts, using the same
// expressions as propagateScalar, so lane and scalar results agree.
func propagateLanes(b *batch.Batch, base, w int, tsince float64, c geophys.Constants, out batch.Slice) {
	var (
		cosio, sinio, xnodp, aodp [maxLanes]float64
		u, eo1                    [maxLanes]float64
	)

	for l := 0; l < w; l++ {
		i := base + l
		cosio[l] = math.Cos(b.Incl[i])
		sinio[l] = math.Sin(b.Incl[i])
		xnodp[l], aodp[l] = recoverMeanMotion(b.N[i], cosio[l], b.Ecc[i], c.J2, c.KE)
	}

	for l := 0; l < w; l++ {
		i := base + l
		c1 := b.BStar[i] * aodp[l] * aodp[l]
		xmdf := b.M[i] + xnodp[l]*tsince + c1*tsince*tsince
		u[l] = normalizeAngle(xmdf)
		eo1[l] = u[l]
	}

	// Fixed iteration count across the whole group.
	for k := 0; k < keplerIters; k++ {
		for l := 0; l < w; l++ {
			e := b.Ecc[base+l]
			eo1[l] -= (eo1[l] - e*math.Sin(eo1[l]) - u[l]) / (1 - e*math.Cos(eo1[l]))
		}
	}

	for l := 0; l < w; l++ {
		i := base + l
		ecco := b.Ecc[i]
		sinE := math.Sin(eo1[l])
		cosE := math.Cos(eo1[l])
		ecose := ecco * cosE
		esine := ecco * sinE

		el2 := 1 - ecco*ecco
		pl := aodp[l] * el2
		r := aodp[l] * (1 - ecose)
		rdot := c.KE * math.Sqrt(aodp[l]) * esine / r
		rvdot := c.KE * math.Sqrt(pl) / r

		sinv := math.Sqrt(el2) * sinE / (1 - ecose)
		cosv := (cosE - ecco) / (1 - ecose)
		v := math.Atan2(sinv, cosv)

		su := b.ArgP[i] + v
		sinSU, cosSU := math.Sin(su), math.Cos(su)
		sinNode, cosNode := math.Sin(b.RAAN[i]), math.Cos(b.RAAN[i])

		ux := cosSU*cosNode - sinSU*cosio[l]*sinNode
		uy := cosSU*sinNode + sinSU*cosio[l]*cosNode
		uz := sinSU * sinio[l]
		vx := -(sinSU*cosNode + cosSU*cosio[l]*sinNode)
		vy := cosSU*cosio[l]*cosNode - sinSU*sinNode
		vz := cosSU * sinio[l]

		rkm := r * c.RE
		rdotkms := rdot * c.RE / secondsPerMin
		rvdotkms := rvdot * c.RE / secondsPerMin

		out.X[i] = rkm * ux
		out.Y[i] = rkm * uy
		out.Z[i] = rkm * uz
		out.VX[i] = rdotkms*ux + rvdotkms*vx
		out.VY[i] = rdotkms*uy + rvdotkms*vy
		out.VZ[i] = rdotkms*uz + rvdotkms*vz
	}
}
