package ledger

// portalABI is the MessagePortal contract interface.
const portalABI = `[
  {"type":"function","name":"totalMessages","stateMutability":"view","inputs":[],
   "outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"getMessages","stateMutability":"view",
   "inputs":[{"name":"offset","type":"uint256"},{"name":"count","type":"uint256"}],
   "outputs":[{"name":"","type":"tuple[]","components":[
     {"name":"sender","type":"address"},
     {"name":"text","type":"string"},
     {"name":"timestamp","type":"uint256"},
     {"name":"likes","type":"uint256"}]}]},
  {"type":"function","name":"postMessage","stateMutability":"nonpayable",
   "inputs":[{"name":"text","type":"string"}],"outputs":[]},
  {"type":"function","name":"likeMessage","stateMutability":"nonpayable",
   "inputs":[{"name":"index","type":"uint256"}],"outputs":[]},
  {"type":"event","name":"NewMessage","anonymous":false,"inputs":[
     {"name":"sender","type":"address","indexed":true},
     {"name":"text","type":"string","indexed":false},
     {"name":"timestamp","type":"uint256","indexed":false},
     {"name":"index","type":"uint256","indexed":false}]},
  {"type":"event","name":"MessageLiked","anonymous":false,"inputs":[
     {"name":"liker","type":"address","indexed":true},
     {"name":"index","type":"uint256","indexed":true},
     {"name":"newLikeCount","type":"uint256","indexed":false}]}
]`
