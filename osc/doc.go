// Copyright 2013 - 2015 Sebastian Ruml <sebastian.ruml@gmail.com>
// Copyright 2021 - 2022 Mendel Greenberg <mendel@chabad360.me>

//Package osc provides the OpenSoundControl plumbing used to talk to a SuperCollider engine.
//
//This implementation is based on the Open Sound Control 1.0 Specification (http://opensoundcontrol.org/spec-1_0.html).
//
//Features
//
//- Supports OSC messages with the following TypeTags:
//
//	'i' (int32)
//	'f' (float32)
//	's' (string)
//	'b' ([]byte)
//	't' (Timetag)
//	'h' (int64)
//	'd' (float64)
//	'T' (true)
//	'F' (false)
//	'N' (nil)
//
//- Supports OSC bundles, including Timetags
//
//- Address pattern matching and dispatching.
//
//- Client transports: UDP datagrams, and TCP streams framed either with an
//int32 size prefix (scsynth's native TCP framing) or with SLIP (OSC 1.1).
//
//Usage
//
//Client example:
//  conn, err := osc.DialUDP("127.0.0.1:57110")
//  if err != nil {
//      return err
//  }
//  defer conn.Close()
//
//  conn.Send(osc.NewMessage("/status"))
//  p, err := conn.Receive()
//
//Server example:
//  d := &osc.Dispatcher{}
//  d.AddMethodFunc("/status", func(msg *osc.Message, from net.Addr) {
//      fmt.Println(msg)
//  })
//
//  server := &osc.Server{
//      Addr:       "127.0.0.1:57110",
//      Dispatcher: d,
//  }
//  err := server.ListenAndServe(ctx)
package osc
