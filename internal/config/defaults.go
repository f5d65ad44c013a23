package config

// DefaultYAML is the built-in suite definition, used when no
// configuration file is supplied.
const DefaultYAML = `
hepscore_benchmark:
  name: HEPscore20
  version: "1.0"
  repetitions: 3
  reference_machine: 'Intel Core i5-4590 @ 3.30GHz - 1 Logical Core'
  method: geometric_mean
  registry: gitlab-registry.cern.ch/hep-benchmarks/hep-workloads
  benchmarks:
    atlas-sim-bmk:
      version: v0.18
      scorekey: wl-scores
      refscores:
        sim: 0.0052
    cms-reco-bmk:
      version: v0.11
      scorekey: wl-scores
      refscores:
        reco: 0.1625
    lhcb-gen-sim-bmk:
      version: v0.5
      scorekey: wl-scores
      options:
        threads: 1
      refscores:
        gen-sim: 7.1811
`
